package reqframe

import (
	"testing"
)

func TestDecodeSingleRequestNoBody(t *testing.T) {
	buf := []byte("GET /login HTTP/1.1\r\n\r\n")
	frames, residual := Decode(buf)
	if len(residual) != 0 {
		t.Fatalf("residual = %q, want empty", residual)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Err != nil {
		t.Fatalf("unexpected parse error: %v", f.Err)
	}
	if f.Method != "GET" || f.Path != "/login" {
		t.Fatalf("Method/Path = %q/%q, want GET//login", f.Method, f.Path)
	}
	if len(f.Body) != 0 {
		t.Fatalf("Body = %q, want empty", f.Body)
	}
}

func TestDecodeRequestWithQuery(t *testing.T) {
	buf := []byte("PUT /switch_channel?id=1000&channel=7 HTTP/1.1\r\n\r\n")
	frames, _ := Decode(buf)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Path != "/switch_channel" {
		t.Fatalf("Path = %q, want /switch_channel", f.Path)
	}
	if f.Query.Get("id") != "1000" || f.Query.Get("channel") != "7" {
		t.Fatalf("Query = %+v, want id=1000 channel=7", f.Query)
	}
}

func TestDecodeConcatenatedFramesYieldsAllWithEmptyResidual(t *testing.T) {
	buf := []byte(
		"POST /login HTTP/1.1\r\n\r\n{\"login\":\"maxim\",\"password\":\"x\"}" +
			"DELETE /logout?id=1000 HTTP/1.1\r\n\r\n" +
			"POST /message HTTP/1.1\r\n\r\n{\"id\":1000,\"message\":\"hi\"}",
	)
	frames, residual := Decode(buf)
	if len(residual) != 0 {
		t.Fatalf("residual = %q, want empty", residual)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if frames[0].Path != "/login" || frames[1].Path != "/logout" || frames[2].Path != "/message" {
		t.Fatalf("unexpected frame order: %+v", frames)
	}
	if string(frames[0].Body) != `{"login":"maxim","password":"x"}` {
		t.Fatalf("frame[0].Body = %q", frames[0].Body)
	}
	if string(frames[2].Body) != `{"id":1000,"message":"hi"}` {
		t.Fatalf("frame[2].Body = %q", frames[2].Body)
	}
}

func TestDecodeConcatenatedResponseFramesNoSeparator(t *testing.T) {
	// EncodeResponse emits no trailing separator, so two responses written
	// back to back (as a peer's outbox might enqueue them) butt a status
	// line directly against the previous body, e.g. `...}HTTP/1.1...`.
	buf := append(
		EncodeResponse(200, "OK", []byte(`{"code":0}`)),
		EncodeResponse(200, "OK", []byte(`{"code":1}`))...,
	)
	frames, residual := Decode(buf)
	if len(residual) != 0 {
		t.Fatalf("residual = %q, want empty", residual)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if string(frames[0].Body) != `{"code":0}` || string(frames[1].Body) != `{"code":1}` {
		t.Fatalf("unexpected bodies: %+v", frames)
	}
}

func TestDecodeSplitFrameAcrossReads(t *testing.T) {
	full := []byte("POST /login HTTP/1.1\r\n\r\n{\"login\":\"maxim\",\"password\":\"x\"}")
	part1 := full[:20]
	part2 := full[20:]

	frames, residual := Decode(part1)
	if len(frames) != 0 {
		t.Fatalf("got %d frames from partial read, want 0", len(frames))
	}
	if len(residual) == 0 {
		t.Fatal("expected non-empty residual from partial read")
	}

	combined := append(append([]byte{}, residual...), part2...)
	frames, residual = Decode(combined)
	if len(residual) != 0 {
		t.Fatalf("residual = %q, want empty after combining", residual)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Path != "/login" {
		t.Fatalf("Path = %q, want /login", frames[0].Path)
	}
}

func TestDecodeUnrecognizedLineIsSkippedAsPreamble(t *testing.T) {
	buf := []byte("BOGUS not-a-frame\r\nGET /login HTTP/1.1\r\n\r\n")
	frames, residual := Decode(buf)
	if len(residual) != 0 {
		t.Fatalf("residual = %q, want empty", residual)
	}
	// "BOGUS ..." never matches a start-line signature at all, so it is
	// silently skipped as preamble noise; only the well-formed GET frame
	// is produced.
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1: %+v", len(frames), frames)
	}
	if frames[0].Method != "GET" {
		t.Fatalf("Method = %q, want GET", frames[0].Method)
	}
}

func TestDecodeMalformedMethodWithValidSignaturePrefix(t *testing.T) {
	buf := []byte("GET /only-two-fields\r\nGET /login HTTP/1.1\r\n\r\n")
	frames, _ := Decode(buf)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2: %+v", len(frames), frames)
	}
	if frames[0].Err == nil {
		t.Fatal("expected ParseError on malformed first start-line")
	}
	if frames[1].Err != nil || frames[1].Method != "GET" {
		t.Fatalf("expected second frame to parse cleanly: %+v", frames[1])
	}
}

func TestDecodeResponseFrame(t *testing.T) {
	buf := []byte("HTTP/1.1 200 OK\r\n\r\n{\"code\":0}")
	frames, _ := Decode(buf)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Kind != KindResponse || f.Status != 200 || f.Reason != "OK" {
		t.Fatalf("unexpected response frame: %+v", f)
	}
}

func TestDecodeRespectsContentLength(t *testing.T) {
	body := `{"a":1}`
	buf := []byte("POST /message HTTP/1.1\r\nContent-Length: " +
		itoa(len(body)) + "\r\n\r\n" + body)
	frames, residual := Decode(buf)
	if len(residual) != 0 {
		t.Fatalf("residual = %q, want empty", residual)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if string(frames[0].Body) != body {
		t.Fatalf("Body = %q, want %q", frames[0].Body, body)
	}
}

func TestDecodeContentLengthIncomplete(t *testing.T) {
	buf := []byte("POST /message HTTP/1.1\r\nContent-Length: 20\r\n\r\n{\"a\":1}")
	frames, residual := Decode(buf)
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0 for incomplete content-length body", len(frames))
	}
	if len(residual) == 0 {
		t.Fatal("expected non-empty residual")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
