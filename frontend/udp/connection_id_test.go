// Copyright 2016 Jimmy Zelinskie
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

package udp

import (
	"testing"
	"time"
)

var golden = []struct {
	createdAt int64
	now       int64
	port      uint16
	checkPort uint16
	valid     bool
}{
	{0, 1, 6881, 6881, true},
	{0, 3600, 6881, 6881, false}, // crossed into the next hour
	{0, 0, 6881, 6882, false},    // different client port
	{0, 0, 0, 0, true},
}

func TestVerification(t *testing.T) {
	for _, tt := range golden {
		cid := NewConnectionID(tt.port, time.Unix(tt.createdAt, 0))
		got := ValidConnectionID(cid, tt.checkPort, time.Unix(tt.now, 0))
		if got != tt.valid {
			t.Errorf("port %d/%d createdAt %d now %d: expected validity: %t got validity: %t",
				tt.port, tt.checkPort, tt.createdAt, tt.now, tt.valid, got)
		}
	}
}
