package trie

import (
	"errors"
	"fmt"
)

var errDecodeInvalid = errors.New("trie: invalid encoded node")

// decodeNode decodes one RLP-encoded trie node. It does not resolve hash
// references to other nodes — those are returned as nodeHash values for
// the caller (SyncStore.InsertAndFindMissingChildren) to check against the
// local store.
func decodeNode(data []byte) (node, error) {
	if len(data) == 0 {
		return nil, errDecodeInvalid
	}

	elems, err := decodeRLPList(data)
	if err != nil {
		return nil, fmt.Errorf("trie decode: %w", err)
	}

	switch len(elems) {
	case 2:
		return decodeShort(elems)
	case 17:
		return decodeFull(elems)
	default:
		return nil, fmt.Errorf("%w: expected 2 or 17 elements, got %d", errDecodeInvalid, len(elems))
	}
}

// decodeShort decodes a 2-element RLP list into a shortNode.
func decodeShort(elems [][]byte) (node, error) {
	key := compactToHex(elems[0])

	if hasTerm(key) {
		return &shortNode{Key: key, Val: leafValue(elems[1])}, nil
	}

	child, err := decodeRef(elems[1])
	if err != nil {
		return nil, err
	}
	return &shortNode{Key: key, Val: child}, nil
}

// decodeFull decodes a 17-element RLP list into a branchNode.
func decodeFull(elems [][]byte) (node, error) {
	n := &branchNode{}
	for i := 0; i < 16; i++ {
		if len(elems[i]) == 0 {
			continue
		}
		child, err := decodeRef(elems[i])
		if err != nil {
			return nil, err
		}
		n.Children[i] = child
	}
	if len(elems[16]) > 0 {
		n.Children[16] = leafValue(elems[16])
	}
	return n, nil
}

// decodeRef decodes a child reference: a bare 32-byte hash, or an inline
// node small enough to have been embedded directly rather than hashed out.
func decodeRef(data []byte) (node, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) == 32 {
		return nodeHash(data), nil
	}
	return decodeNode(data)
}

// decodeLength decodes a big-endian length prefix.
func decodeLength(data []byte, lenLen int) int {
	var length int
	for i := 0; i < lenLen; i++ {
		length = length<<8 | int(data[i])
	}
	return length
}

// decodeRLPList decodes a top-level RLP list into its element byte slices.
// Both the short-list (<=55 bytes of payload) and long-list forms occur in
// practice: a branchNode with several 32-byte hash children routinely
// exceeds 55 bytes, so the long-list path is load-bearing, not a vestigial
// fallback (see decoder_test.go).
func decodeRLPList(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, errDecodeInvalid
	}

	prefix := data[0]
	if prefix < 0xc0 {
		return nil, fmt.Errorf("%w: expected list, got string prefix 0x%02x", errDecodeInvalid, prefix)
	}
	var payload []byte

	switch {
	case prefix <= 0xf7:
		length := int(prefix - 0xc0)
		if 1+length > len(data) {
			return nil, errDecodeInvalid
		}
		payload = data[1 : 1+length]
	default:
		lenLen := int(prefix - 0xf7)
		if 1+lenLen > len(data) {
			return nil, errDecodeInvalid
		}
		length := decodeLength(data[1:1+lenLen], lenLen)
		if 1+lenLen+length > len(data) {
			return nil, errDecodeInvalid
		}
		payload = data[1+lenLen : 1+lenLen+length]
	}

	var elems [][]byte
	for len(payload) > 0 {
		elem, rest, err := decodeOneElement(payload)
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
		payload = rest
	}
	return elems, nil
}

// decodeOneElement reads one RLP element from the front of data, returning
// its decoded content and the remaining bytes. List elements (embedded
// child nodes) are returned with their header intact, since decodeRef
// recurses into decodeNode for anything that isn't exactly 32 bytes.
func decodeOneElement(data []byte) (content []byte, rest []byte, err error) {
	if len(data) == 0 {
		return nil, nil, errDecodeInvalid
	}

	prefix := data[0]
	switch {
	case prefix <= 0x7f:
		return data[:1], data[1:], nil

	case prefix == 0x80:
		return nil, data[1:], nil

	case prefix <= 0xb7:
		length := int(prefix - 0x80)
		if 1+length > len(data) {
			return nil, nil, errDecodeInvalid
		}
		return data[1 : 1+length], data[1+length:], nil

	case prefix <= 0xbf:
		lenLen := int(prefix - 0xb7)
		if 1+lenLen > len(data) {
			return nil, nil, errDecodeInvalid
		}
		length := decodeLength(data[1:1+lenLen], lenLen)
		end := 1 + lenLen + length
		if end > len(data) {
			return nil, nil, errDecodeInvalid
		}
		return data[1+lenLen : end], data[end:], nil

	case prefix <= 0xf7:
		length := int(prefix - 0xc0)
		end := 1 + length
		if end > len(data) {
			return nil, nil, errDecodeInvalid
		}
		return data[:end], data[end:], nil

	default:
		lenLen := int(prefix - 0xf7)
		if 1+lenLen > len(data) {
			return nil, nil, errDecodeInvalid
		}
		length := decodeLength(data[1:1+lenLen], lenLen)
		end := 1 + lenLen + length
		if end > len(data) {
			return nil, nil, errDecodeInvalid
		}
		return data[:end], data[end:], nil
	}
}
