// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package wire

import (
	"fmt"
	"io"
)

// MaxPayloadSize bounds a single frame's payload so a corrupt or
// malicious header can't make ReadFrame allocate without limit.
const MaxPayloadSize = 1 << 24

// ReadFrame reads one complete frame from src, retrying short reads
// until the header and payload are fully read or an error occurs
// (spec §4.4: partial reads are not a protocol error, only a non-blocking
// socket condition to retry on).
func ReadFrame(src io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(src, hdr[:]); err != nil {
		return Frame{}, err
	}
	h := unmarshalHeader(hdr[:])
	if h.Size > MaxPayloadSize {
		return Frame{}, fmt.Errorf("wire: declared payload %d exceeds maximum %d", h.Size, MaxPayloadSize)
	}
	payload := make([]byte, h.Size)
	if h.Size > 0 {
		if _, err := io.ReadFull(src, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}
