package dtc

import (
	"bytes"
	"reflect"
	"testing"
)

func TestJSONCodec_Encode(t *testing.T) {
	var c JSONCodec
	b, err := c.Encode(&Logoff{Reason: "Client disconnect"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `{"Type":5,"Reason":"Client disconnect"}` + "\x00"
	if string(b) != want {
		t.Errorf("Encode() = %q, want %q", b, want)
	}

	b, _ = c.Encode(&Logoff{})
	if string(b) != "{\"Type\":5}\x00" {
		t.Errorf("Encode(empty) = %q", b)
	}
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	msgs := []Message{
		&EncodingRequest{ProtocolVersion: 8, Encoding: EncodingJSON, ProtocolType: "DTC"},
		&LogonRequest{ProtocolVersion: 8, Username: "u", Password: "p", HeartbeatIntervalInSeconds: 30},
		&LogonResponse{Result: 1, ResultText: "ok", ServerName: "SC"},
		&Heartbeat{NumDroppedMessages: 1, CurrentDateTime: 1700000000},
		&MarketDataRequest{RequestAction: RequestSubscribe, SymbolID: 1, Symbol: "ES", Exchange: "CME"},
		&MarketDataSnapshot{SymbolID: 1, LastTradePrice: 4500.25, BidPrice: 4500, AskPrice: 4500.5},
		&MarketDataUpdateTrade{SymbolID: 1, Price: 4501, Volume: 2},
		&SecurityDefinitionResponse{RequestID: 3, Symbol: "ES", Description: "E-mini"},
	}

	var c JSONCodec
	f := NewNULFramer(0)
	for _, in := range msgs {
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", in.Type(), err)
		}
		f.Feed(b)
		frame, err := f.Next()
		if err != nil || frame == nil {
			t.Fatalf("Next() = %q, %v", frame, err)
		}
		out, err := c.Decode(frame)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", in.Type(), err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Errorf("Decode() = %+v, want %+v", out, in)
		}
	}
}

func TestJSONCodec_DecodeTypeName(t *testing.T) {
	var c JSONCodec
	msg, err := c.Decode([]byte(`{"Type":"LogonResponse","Result":1,"ResultText":"welcome","ServerName":"SC"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	resp, ok := msg.(*LogonResponse)
	if !ok {
		t.Fatalf("Decode() = %T, want *LogonResponse", msg)
	}
	if !resp.Succeeded() || resp.ServerName != "SC" {
		t.Errorf("LogonResponse = %+v", resp)
	}
}

func TestJSONCodec_DecodeUnknown(t *testing.T) {
	var c JSONCodec
	msg, err := c.Decode([]byte(`{"Type":9999,"Foo":1}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	u, ok := msg.(*Unknown)
	if !ok || u.MsgType != 9999 {
		t.Fatalf("Decode() = %#v, want Unknown 9999", msg)
	}
	if !bytes.Contains(u.Raw, []byte("Foo")) {
		t.Errorf("Raw = %q", u.Raw)
	}
}

func TestJSONCodec_DecodeErrors(t *testing.T) {
	var c JSONCodec
	for _, in := range []string{`not json`, `{"Result":1}`, `{"Type":"NoSuchMessage"}`, `{"Type":104,"SymbolID":"x"}`} {
		if _, err := c.Decode([]byte(in)); err == nil {
			t.Errorf("Decode(%q) error = nil", in)
		}
	}
}

func TestNewCodec(t *testing.T) {
	tests := []struct {
		enc     Encoding
		wantErr bool
	}{
		{EncodingBinary, false},
		{EncodingJSON, false},
		{EncodingJSONCompact, true},
		{EncodingProtocolBuffers, true},
	}
	for _, tt := range tests {
		t.Run(tt.enc.String(), func(t *testing.T) {
			c, err := NewCodec(tt.enc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewCodec() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && c.Encoding() != tt.enc {
				t.Errorf("Encoding() = %v, want %v", c.Encoding(), tt.enc)
			}
			if _, err := NewFramer(tt.enc, 0); (err != nil) != tt.wantErr {
				t.Errorf("NewFramer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseEncoding(t *testing.T) {
	if enc, err := ParseEncoding("json"); err != nil || enc != EncodingJSON {
		t.Errorf("ParseEncoding(json) = %v, %v", enc, err)
	}
	if enc, err := ParseEncoding(""); err != nil || enc != EncodingBinary {
		t.Errorf("ParseEncoding(\"\") = %v, %v", enc, err)
	}
	if _, err := ParseEncoding("protobuf"); err == nil {
		t.Error("ParseEncoding(protobuf) error = nil")
	}
}
