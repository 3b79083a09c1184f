// Package checkpoint 提供工作流状态快照的追加式持久化。
//
// 检查点属于可观测性而非正确性保障：写入失败只记录日志，绝不传播到
// 请求路径。每个工作流步骤完成后恰好产生一条记录，记录按
// (sessionID, timestamp) 追加，可独立读取用于审计与调试。
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record 一次步骤执行后的状态快照
// 追加式写入，创建后永不更新
type Record struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	StepName  string          `json:"step_name"`
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewRecord 创建检查点记录
// snapshot 必须可被 JSON 序列化（WorkflowState 的可序列化投影）
func NewRecord(sessionID, stepName string, snapshot any) (*Record, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return &Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StepName:  stepName,
		Snapshot:  data,
		CreatedAt: time.Now(),
	}, nil
}

// Store 检查点存储接口
type Store interface {
	// Save 保存一条检查点记录
	Save(ctx context.Context, record *Record) error

	// List 按时间倒序列出某会话的检查点记录
	List(ctx context.Context, sessionID string, limit int) ([]*Record, error)

	// Close 释放底层资源
	Close() error
}
