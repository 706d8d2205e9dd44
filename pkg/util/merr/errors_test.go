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

package merr

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrNameTaken("alice")
	errors.Wrap(err, "failed to register session")
	s.ErrorIs(err, ErrNameTaken)
	s.Equal(Code(ErrNameTaken), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(errUnexpected.errCode, Code(io.EOF))

	sameCodeErr := newRelayError("new error", ErrNameTaken.errCode, false)
	s.True(sameCodeErr.Is(ErrNameTaken))
	s.False(ErrNameTaken.Is(ErrNameInvalid))
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceNotReady("starting"), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceUnavailable("closing", "refuse"), ErrServiceUnavailable)
	s.ErrorIs(WrapErrTooManyRequests(100, "too many connections"), ErrServiceTooManyRequests)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)

	// Name 相关错误。
	s.ErrorIs(WrapErrNameTaken("alice", "register failed"), ErrNameTaken)
	s.ErrorIs(WrapErrNameInvalid("", "empty name"), ErrNameInvalid)

	// Routing 相关错误。
	s.ErrorIs(WrapErrRecipientNotFound("bob"), ErrRecipientNotFound)
	s.ErrorIs(WrapErrSessionClosed("bob"), ErrSessionClosed)
	s.ErrorIs(WrapErrSendQueueFull("bob", 16), ErrSendQueueFull)

	// IO 相关错误。
	s.ErrorIs(WrapErrConnectionIO("read", os.ErrClosed), ErrConnectionIO)
	s.Nil(WrapErrConnectionIO("read", nil))
	s.ErrorIs(WrapErrLineTooLong(4096), ErrLineTooLong)

	// Listener 相关错误。
	s.ErrorIs(WrapErrBind("127.0.0.1:1234", os.ErrPermission), ErrBind)
	s.Nil(WrapErrBind("127.0.0.1:1234", nil))
	s.ErrorIs(WrapErrServerClosed(), ErrServerClosed)

	// 参数相关错误。
	s.ErrorIs(WrapErrParameterInvalid(8, 1, "failed to create"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidRange(1, 1<<16, 0, "max connections should be in range"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("bad addr %q", "::"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("addr", "no listen address"), ErrParameterMissing)
}

func (s *ErrSuite) TestMessageFields() {
	err := WrapErrNameTaken("alice")
	s.Equal("name taken[name=alice]", err.Error())

	err = WrapErrConnectionIO("write", io.ErrClosedPipe)
	s.Equal("connection IO failed[op=write]: io: read/write on closed pipe", err.Error())
}

func (s *ErrSuite) TestErrorType() {
	s.Equal(InputError, GetErrorType(WrapErrNameTaken("alice")))
	s.Equal(InputError, GetErrorType(WrapErrRecipientNotFound("bob")))
	s.Equal(SystemError, GetErrorType(WrapErrConnectionIO("read", io.EOF)))
	s.Equal(SystemError, GetErrorType(io.EOF))
	s.Equal("input_error", InputError.String())
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(ErrSendQueueFull))
	s.True(IsRetryableErr(WrapErrSendQueueFull("bob", 1)))
	s.False(IsRetryableErr(ErrNameTaken))
	s.False(IsRetryableErr(io.EOF))
}

func (s *ErrSuite) TestCanceledOrTimeout() {
	s.True(IsCanceledOrTimeout(context.Canceled))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.DeadlineExceeded, "dial")))
	s.False(IsCanceledOrTimeout(io.EOF))
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrSessionClosed("bob"), WrapErrRecipientNotFound("alice"))
	s.Equal(Code(ErrRecipientNotFound), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
