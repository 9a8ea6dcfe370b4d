package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taoyao-code/hostlink/internal/protocol/cafe"
)

// Status 查询设备状态。
// 先用一次预热事务把请求送进设备（此刻回发的是残留数据，丢弃），
// 随后逐片收取应答，每片前继续回发同一请求帧，直到收尾片。
func (c *Client) Status(ctx context.Context) (*cafe.DeviceStatus, error) {
	tx := make([]byte, c.capacity)
	rx := make([]byte, c.capacity)
	if err := cafe.EncodeRequest(tx, cafe.CmdStatusQuery, 0); err != nil {
		return nil, err
	}

	if err := c.WaitReady(ctx); err != nil {
		return nil, err
	}
	if _, err := c.Transfer(ctx, tx, rx); err != nil {
		return nil, fmt.Errorf("prime transfer: %w", err)
	}

	var payload []byte
	for {
		if err := c.WaitReady(ctx); err != nil {
			return nil, err
		}
		n, err := c.Transfer(ctx, tx, rx)
		if err != nil {
			return nil, err
		}
		resp, err := cafe.DecodeResponse(rx[:n])
		if err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if resp.Command != cafe.CmdStatusQuery {
			return nil, fmt.Errorf("unexpected response command 0x%02X", resp.Command)
		}
		payload = append(payload, resp.Payload...)
		if resp.Final(c.capacity) {
			break
		}
	}

	var st cafe.DeviceStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("parse status payload: %w", err)
	}
	return &st, nil
}

// Reboot 请求设备立即重启
func (c *Client) Reboot(ctx context.Context) error {
	return c.sendRequest(ctx, cafe.CmdReboot, 0)
}

// RebootToSlot 请求设备重启到第 index 个可引导分区（0 起）
func (c *Client) RebootToSlot(ctx context.Context, index uint8) error {
	return c.sendRequest(ctx, cafe.CmdRebootToSlot, index)
}

func (c *Client) sendRequest(ctx context.Context, cmd, arg0 byte) error {
	tx := make([]byte, c.capacity)
	rx := make([]byte, c.capacity)
	if err := cafe.EncodeRequest(tx, cmd, arg0); err != nil {
		return err
	}
	if err := c.WaitReady(ctx); err != nil {
		return err
	}
	_, err := c.Transfer(ctx, tx, rx)
	return err
}
