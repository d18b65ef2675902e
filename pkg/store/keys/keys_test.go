package keys

import (
	"testing"
)

func TestGenAndParse(t *testing.T) {
	tests := []struct {
		name     string
		conv     string
		msg      string
		wantKey  string
		wantFail bool
	}{
		{name: "conversation", conv: "conv-1", wantKey: "c:Y29udi0x"},
		{name: "message", conv: "conv-1", msg: "srv-42", wantKey: "c:Y29udi0x:m:c3J2LTQy"},
		{name: "colon in id", conv: "room:42", msg: "msg/9", wantKey: "c:cm9vbTo0Mg:m:bXNnLzk"},
		{name: "unicode id", conv: "チャット", msg: "a b", wantKey: "c:44OB44Oj44OD44OI:m:YSBi"},
		{name: "blank conversation", conv: "  ", msg: "x", wantFail: true},
		{name: "empty message id", conv: "conv-1", msg: "", wantKey: "c:Y29udi0x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				key string
				err error
			)
			if tt.msg == "" {
				key, err = GenConversationKey(tt.conv)
			} else {
				key, err = GenMessageKey(tt.conv, tt.msg)
			}
			if tt.wantFail {
				if err == nil {
					t.Fatalf("expected error, got key %q", key)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key != tt.wantKey {
				t.Fatalf("key = %q, want %q", key, tt.wantKey)
			}
			parts, err := Parse(key)
			if err != nil {
				t.Fatalf("parse %q: %v", key, err)
			}
			if parts.ConversationID != tt.conv || parts.MessageID != tt.msg {
				t.Fatalf("parse %q = %+v", key, parts)
			}
		})
	}
}

func TestParseRejectsForeignKeys(t *testing.T) {
	for _, k := range []string{SystemVersionKey, "c:", "t:abc", "c:a:x:b", "c:a=b", "c:YQ:m:!"} {
		if _, err := Parse(k); err == nil {
			t.Fatalf("expected error for %q", k)
		}
	}
}

func TestKeysSortInsideBounds(t *testing.T) {
	k, _ := GenMessageKey("zzz", "zzz")
	if !(k >= ConversationPrefix && k < ConversationUpper) {
		t.Fatalf("key %q outside [%q, %q)", k, ConversationPrefix, ConversationUpper)
	}
}
