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

import "io"

// WriteFrame writes f to dst in full, retrying on short writes until
// every byte is sent or an error occurs.
func WriteFrame(dst io.Writer, f Frame) error {
	buf := Encode(f)
	for len(buf) > 0 {
		n, err := dst.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// WriteAck writes a zero-payload ACK frame to dst.
func WriteAck(dst io.Writer, address, port string) error {
	return WriteFrame(dst, Frame{Header: Header{Address: address, Port: port, Type: Ack}})
}
