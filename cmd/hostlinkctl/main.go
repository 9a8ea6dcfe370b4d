package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goburrow/serial"

	"github.com/taoyao-code/hostlink/internal/controller"
	"github.com/taoyao-code/hostlink/internal/protocol/cafe"
)

const version = "1.0.0"

// Config 命令行配置
type Config struct {
	Addr        string
	Serial      string
	BaudRate    int
	Capacity    int
	Timeout     time.Duration
	ShowVersion bool
	ShowHelp    bool
}

func main() {
	config := parseFlags()

	if config.ShowVersion {
		fmt.Printf("hostlinkctl v%s\n", version)
		os.Exit(0)
	}
	if config.ShowHelp || flag.NArg() == 0 {
		showHelp()
		os.Exit(0)
	}

	if err := run(config, flag.Args()); err != nil {
		log.Fatalf("执行失败: %v", err)
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.Addr, "addr", "127.0.0.1:9000", "应答端TCP桥接地址")
	flag.StringVar(&config.Serial, "serial", "", "串口设备路径（设置后走串口桥接）")
	flag.IntVar(&config.BaudRate, "baud", 115200, "串口波特率")
	flag.IntVar(&config.Capacity, "capacity", cafe.DefaultCapacity, "单次事务缓冲区大小")
	flag.DurationVar(&config.Timeout, "timeout", 10*time.Second, "单条命令超时")
	flag.BoolVar(&config.ShowVersion, "version", false, "显示版本信息")
	flag.BoolVar(&config.ShowHelp, "help", false, "显示帮助信息")

	flag.Parse()
	return config
}

func run(config *Config, args []string) error {
	cli, err := dial(config)
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	switch args[0] {
	case "status":
		st, err := cli.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("硬件版本: %s\n固件版本: %s\n运行分区: %s\n", st.HWV, st.FWV, st.OTA)
		return nil

	case "reboot":
		if err := cli.Reboot(ctx); err != nil {
			return err
		}
		fmt.Println("重启命令已送达")
		return nil

	case "boot-slot":
		if len(args) < 2 {
			return fmt.Errorf("boot-slot 需要分区序号参数")
		}
		n, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return fmt.Errorf("非法分区序号 %q", args[1])
		}
		if err := cli.RebootToSlot(ctx, uint8(n)); err != nil {
			return err
		}
		fmt.Printf("已请求重启到第%d个可启动分区\n", n)
		return nil

	default:
		return fmt.Errorf("未知命令 %q", args[0])
	}
}

// dial 按选项连接TCP或串口桥接
func dial(config *Config) (*controller.Client, error) {
	if config.Serial != "" {
		port, err := serial.Open(&serial.Config{
			Address:  config.Serial,
			BaudRate: config.BaudRate,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  config.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", config.Serial, err)
		}
		return controller.New(port, config.Capacity), nil
	}
	return controller.Dial(config.Addr, config.Capacity)
}

func showHelp() {
	fmt.Printf("hostlinkctl v%s - hostlink 控制端命令行\n", version)
	fmt.Println("\n使用方法:")
	fmt.Println("  hostlinkctl [选项] <命令>")
	fmt.Println("\n命令:")
	fmt.Println("  status          查询设备状态")
	fmt.Println("  reboot          立即重启设备")
	fmt.Println("  boot-slot <n>   重启到第n个可启动分区（0起）")
	fmt.Println("\n选项:")
	flag.PrintDefaults()
	fmt.Println("\n示例:")
	fmt.Println("  # 查询状态")
	fmt.Println("  hostlinkctl -addr 192.168.1.20:9000 status")
	fmt.Println("\n  # 串口链路重启到分区1")
	fmt.Println("  hostlinkctl -serial /dev/ttyUSB0 boot-slot 1")
}
