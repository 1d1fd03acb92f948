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

package sdk

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"
)

// MaxFrameBytes bounds a single IPC frame, guarding against a runaway or
// malicious handler claiming an unreasonable length prefix.
const MaxFrameBytes = 16 << 20 // 16 MiB

// WriteFrame writes v as a 4-byte big-endian length prefix followed by its
// JSON encoding, per the subprocess IPC contract.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sdk: marshal frame: %w", err)
	}
	if len(payload) > MaxFrameBytes {
		return gwerrors.ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("sdk: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("sdk: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame from r into v.
//
// A short read on the header (0 < n < 4 bytes, i.e. the peer closed
// mid-frame) is reported as ErrTruncatedFrame rather than propagating
// io.ErrUnexpectedEOF, so callers can distinguish "handler exited cleanly
// between frames" (io.EOF) from "handler died mid-frame" (ErrTruncatedFrame,
// mapped to HandlerCrashed).
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return gwerrors.ErrTruncatedFrame
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameBytes {
		return gwerrors.ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return gwerrors.ErrTruncatedFrame
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("sdk: unmarshal frame: %w", err)
	}
	return nil
}
