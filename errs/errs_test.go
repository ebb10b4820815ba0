// Copyright 2026 The objcap Authors
// This file is part of objcap.
//
// objcap is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// objcap is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with objcap.  If not, see <http://www.gnu.org/licenses/>.

package errs_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/objcap/objcap/errs"
)

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		errs.ErrAlreadyExists,
		errs.ErrAlreadyResolved,
		errs.ErrNotFound,
		errs.ErrUnresolvable,
		errs.ErrOutOfKeys,
		errs.ErrSessionClosed,
		errs.ErrFramingError,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, stderrors.Is(a, b), "sentinel %d should not match sentinel %d", i, j)
		}
	}
}

func TestWrapPreservesIsMatching(t *testing.T) {
	wrapped := errs.Wrap(errs.ErrNotFound, "resolve: key 7")
	assert.True(t, stderrors.Is(wrapped, errs.ErrNotFound))
	assert.Contains(t, wrapped.Error(), "key 7")
	assert.Contains(t, wrapped.Error(), errs.ErrNotFound.Error())
}

func TestWrapfFormatsMessage(t *testing.T) {
	wrapped := errs.Wrapf(errs.ErrOutOfKeys, "expose: counter at %d", 12345)
	assert.True(t, stderrors.Is(wrapped, errs.ErrOutOfKeys))
	assert.Contains(t, wrapped.Error(), "expose: counter at 12345")
}
