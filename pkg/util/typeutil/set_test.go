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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	set := NewSet("bob", "alice")
	assert.True(t, set.Contain("alice", "bob"))
	assert.False(t, set.Contain("alice", "carol"))

	set.Insert("carol", "alice")
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []string{"alice", "bob", "carol"}, Sorted(set))

	set.Remove("alice", "dave")
	assert.False(t, set.Contain("alice"))
	assert.Equal(t, []string{"bob", "carol"}, Sorted(set))
	assert.Empty(t, Sorted(NewSet[string]()))
}

func TestConcurrentSet(t *testing.T) {
	set := NewConcurrentSet[int]()
	assert.True(t, set.Insert(1))
	assert.False(t, set.Insert(1))

	var wg sync.WaitGroup
	for i := 2; i <= 20; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			set.Insert(v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, set.Len())

	// 遍历过程中删除元素。
	count := 0
	set.Range(func(v int) bool {
		set.Remove(v)
		count++
		return true
	})
	assert.Equal(t, 20, count)
	assert.Equal(t, 0, set.Len())

	set.Insert(1)
	set.Insert(2)
	visited := 0
	set.Range(func(int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}
