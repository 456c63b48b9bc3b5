package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/wicos64/persistentfs/internal/wireproto"
)

type client struct {
	url string
	hc  *http.Client
}

func newClient(url string) *client {
	return &client{url: url, hc: &http.Client{}}
}

// call sends one PFS1 request and returns the parsed response status
// and payload.
func (c *client) call(op byte, payload []byte) (status byte, resp []byte, err error) {
	req, err := wireproto.BuildRequest(op, payload)
	if err != nil {
		return 0, nil, err
	}
	httpResp, err := c.hc.Post(c.url, "application/octet-stream", bytes.NewReader(req))
	if err != nil {
		return 0, nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		return 0, nil, fmt.Errorf("http status %d", httpResp.StatusCode)
	}

	hdr, ok, err := wireproto.ParseRespHeader(body)
	if err != nil || !ok {
		return 0, nil, fmt.Errorf("bad response header")
	}
	return hdr.Status, body[wireproto.HeaderSize : wireproto.HeaderSize+int(hdr.PayloadLen)], nil
}

func statusString(status byte) string {
	switch status {
	case wireproto.StatusOK:
		return "OK"
	case wireproto.StatusNotFound:
		return "NOT_FOUND"
	case wireproto.StatusNotADir:
		return "NOT_A_DIR"
	case wireproto.StatusIsADir:
		return "IS_A_DIR"
	case wireproto.StatusAlreadyExists:
		return "ALREADY_EXISTS"
	case wireproto.StatusDirNotEmpty:
		return "DIR_NOT_EMPTY"
	case wireproto.StatusAccessDenied:
		return "ACCESS_DENIED"
	case wireproto.StatusInvalidPath:
		return "INVALID_PATH"
	case wireproto.StatusBadFD:
		return "BAD_FD"
	case wireproto.StatusNoSpace:
		return "NO_SPACE"
	case wireproto.StatusBadRequest:
		return "BAD_REQUEST"
	case wireproto.StatusCorrupt:
		return "CORRUPT"
	default:
		return fmt.Sprintf("INTERNAL(%d)", status)
	}
}

// withSession execs a pseudo-process, runs fn with its pid, and exits
// it afterward, mirroring the exec/.../exit bracket every fd-bearing
// operation needs.
func (c *client) withSession(fn func(pid uint32) error) error {
	e := wireproto.NewEncoder(8)
	_ = e.WriteString("pfsctl")
	status, resp, err := c.call(wireproto.OpExec, e.Bytes())
	if err != nil {
		return err
	}
	if status != wireproto.StatusOK {
		return fmt.Errorf("exec: %s", statusString(status))
	}
	d := wireproto.NewDecoder(resp)
	pid, _ := d.ReadU32()

	fnErr := fn(pid)

	exitPayload := wireproto.NewEncoder(8)
	exitPayload.WriteU32(pid)
	exitPayload.WriteU32(0)
	_, _, _ = c.call(wireproto.OpExit, exitPayload.Bytes())

	return fnErr
}
