package cmd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Shred files are a sequence of records: u32 little-endian length followed by the shred
// wire bytes.
const maxShredRecord = 1 << 16

func writeShredRecords(w io.Writer, records [][]byte) error {
	bw := bufio.NewWriter(w)
	var lenBuf [4]byte
	for _, rec := range records {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := bw.Write(rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readShredRecords(r io.Reader) ([][]byte, error) {
	br := bufio.NewReader(r)
	var (
		out    [][]byte
		lenBuf [4]byte
	)
	for {
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, fmt.Errorf("record %d: truncated length: %w", len(out), err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		if n == 0 || n > maxShredRecord {
			return nil, fmt.Errorf("record %d: invalid length %d", len(out), n)
		}
		rec := make([]byte, n)
		if _, err := io.ReadFull(br, rec); err != nil {
			return nil, fmt.Errorf("record %d: truncated body: %w", len(out), err)
		}
		out = append(out, rec)
	}
}
