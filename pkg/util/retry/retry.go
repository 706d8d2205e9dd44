// Copyright (C) 2019-2020 Zilliz. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/chat-relay-go/pkg/log"
	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// Do 按退避策略重复执行 fn，直到成功、次数用尽或 ctx 结束。
//
// 返回值：
//   - fn 成功时返回 nil；
//   - 遇到不可恢复错误（Unrecoverable）或 RetryErr 判定不值得重试的错误时立即返回该错误；
//   - 次数用尽、ctx 结束或剩余时间不足以等待下一次重试时，返回最后一次的错误。
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := newDefaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	bo := c.backOff()
	if c.attempts > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(c.attempts-1))
	}
	logger := log.Ctx(ctx)

	var lastErr error
	for i := uint(0); ; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRecoverable(err) || (c.isRetryErr != nil && !c.isRetryErr(err)) {
			logger.Warn("retry stopped, error not retryable", zap.Uint("retried", i), zap.Error(err))
			if merr.IsCanceledOrTimeout(err) && lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = err
		if i%4 == 0 {
			logger.Warn("retry func failed", zap.Uint("retried", i), zap.Error(err))
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			logger.Warn("retry func failed, reach max retry", zap.Uint("attempt", c.attempts))
			return lastErr
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < next {
			return lastErr
		}

		timer := time.NewTimer(next)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
}

// Unrecoverable 将错误标记为不可恢复，Do 遇到后立即返回。
func Unrecoverable(err error) error {
	return backoff.Permanent(err)
}

// IsRecoverable 判断给定错误是否未被标记为不可恢复。
func IsRecoverable(err error) bool {
	var perm *backoff.PermanentError
	return !errors.As(err, &perm)
}
