package models

import "cmp"

// OrderKey positions a message in its conversation. Seq is the server
// ordering key and stays zero until the message is confirmed; Local is the
// store's insertion counter.
type OrderKey struct {
	Seq   uint64 `json:"seq"`
	Local uint64 `json:"local"`
}

// CompareMessages orders confirmed messages by Seq and puts unconfirmed ones
// after them by insertion order. Ties fall back to Local then id.
func CompareMessages(a, b Message) int {
	ac, bc := a.Order.Seq > 0, b.Order.Seq > 0
	switch {
	case ac && !bc:
		return -1
	case !ac && bc:
		return 1
	}
	if c := cmp.Compare(a.Order.Seq, b.Order.Seq); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Order.Local, b.Order.Local); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
