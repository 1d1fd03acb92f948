// Copyright 2025 The Rivaas Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchContextResetClearsMaps(t *testing.T) {
	t.Parallel()
	c := getDispatchContext()
	c.query["a"] = "1"
	c.headers["h"] = "v"
	c.params["id"] = "42"

	releaseDispatchContext(c)

	c2 := getDispatchContext()
	defer releaseDispatchContext(c2)
	assert.Empty(t, c2.query)
	assert.Empty(t, c2.headers)
	assert.Empty(t, c2.params)
}
