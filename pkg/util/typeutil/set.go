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

package typeutil

import (
	"cmp"
	"slices"
	"sync"
)

// Set 为非并发安全的集合，用于一次性快照（例如在线名字列表）。
type Set[T comparable] map[T]struct{}

func NewSet[T comparable](elements ...T) Set[T] {
	set := make(Set[T], len(elements))
	set.Insert(elements...)
	return set
}

// Insert 将元素插入集合，已存在的元素被忽略。
func (set Set[T]) Insert(elements ...T) {
	for i := range elements {
		set[elements[i]] = struct{}{}
	}
}

// Contain 判断一个或多个元素是否都存在于集合中。
func (set Set[T]) Contain(elements ...T) bool {
	for i := range elements {
		if _, ok := set[elements[i]]; !ok {
			return false
		}
	}
	return true
}

func (set Set[T]) Remove(elements ...T) {
	for i := range elements {
		delete(set, elements[i])
	}
}

func (set Set[T]) Len() int {
	return len(set)
}

// Sorted 返回按升序排列的集合元素，用于名字广播与展示的稳定顺序。
func Sorted[T cmp.Ordered](set Set[T]) []T {
	elements := make([]T, 0, len(set))
	for elem := range set {
		elements = append(elements, elem)
	}
	slices.Sort(elements)
	return elements
}

// ConcurrentSet 为并发安全的集合，接入层用它跟踪存活连接。
type ConcurrentSet[T comparable] struct {
	mu    sync.RWMutex
	inner Set[T]
}

func NewConcurrentSet[T comparable]() *ConcurrentSet[T] {
	return &ConcurrentSet[T]{inner: make(Set[T])}
}

// Insert 插入元素，元素原本不存在时返回 true。
func (set *ConcurrentSet[T]) Insert(element T) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, ok := set.inner[element]; ok {
		return false
	}
	set.inner[element] = struct{}{}
	return true
}

func (set *ConcurrentSet[T]) Remove(elements ...T) {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.inner.Remove(elements...)
}

func (set *ConcurrentSet[T]) Len() int {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.inner)
}

// Range 在快照上遍历元素，回调返回 false 时提前终止。
// 回调中可以安全地修改集合本身。
func (set *ConcurrentSet[T]) Range(f func(element T) bool) {
	set.mu.RLock()
	snapshot := make([]T, 0, len(set.inner))
	for elem := range set.inner {
		snapshot = append(snapshot, elem)
	}
	set.mu.RUnlock()

	for _, elem := range snapshot {
		if !f(elem) {
			return
		}
	}
}
