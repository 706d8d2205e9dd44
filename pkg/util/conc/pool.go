// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"fmt"

	ants "github.com/panjf2000/ants/v2"

	"github.com/lk2023060901/chat-relay-go/pkg/util/merr"
)

// Pool 是基于 ants 的协程池，提交的任务以 Future 的形式返回结果。
type Pool[T any] struct {
	inner *ants.Pool
}

// NewPool 创建容量为 cap 的协程池。
func NewPool[T any](cap int, opts ...PoolOption) *Pool[T] {
	opt := &poolOption{}
	for _, o := range opts {
		o(opt)
	}

	pool, err := ants.NewPool(cap, opt.antsOptions()...)
	if err != nil {
		panic(err)
	}
	return &Pool[T]{inner: pool}
}

// TrySubmit 向协程池提交一个任务，并立即返回提交阶段的错误。
//
// 说明：
//   - 提交失败时返回的 Future 已完成，Err 为提交错误；
//   - 非阻塞协程池已满时返回 merr.ErrServiceTooManyRequests；
//   - 任务 panic 时 Future 的 Err 为非空，panic 本身交给 ants 的 panic handler。
func (pool *Pool[T]) TrySubmit(method func() (T, error)) (*Future[T], error) {
	future := newFuture[T]()
	err := pool.inner.Submit(func() {
		defer close(future.ch)
		defer func() {
			if x := recover(); x != nil {
				future.err = fmt.Errorf("panicked with error: %v", x)
				panic(x)
			}
		}()
		future.value, future.err = method()
	})
	if err != nil {
		if err == ants.ErrPoolOverload {
			err = merr.WrapErrTooManyRequests(int32(pool.Cap()), "worker pool overload")
		}
		future.err = err
		close(future.ch)
		return future, err
	}
	return future, nil
}

func (pool *Pool[T]) Cap() int {
	return pool.inner.Cap()
}

func (pool *Pool[T]) Running() int {
	return pool.inner.Running()
}

func (pool *Pool[T]) Release() {
	pool.inner.Release()
}
