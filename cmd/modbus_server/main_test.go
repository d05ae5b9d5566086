package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/w1xm/dome_interface/internal/modbushttp"
)

type echo struct {
	got []byte
	err error
}

func (e *echo) Send(adu []byte) ([]byte, error) {
	e.got = adu
	if e.err != nil {
		return nil, e.err
	}
	return append([]byte{0xAA}, adu...), nil
}

func TestBridge(t *testing.T) {
	board := &echo{}
	s := &Server{handler: board, password: "hunter2", logger: zaptest.NewLogger(t).Sugar()}
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	c := modbushttp.NewClient(ts.URL+"/api/send", "hunter2", 1, time.Second)
	resp, err := c.Send([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, board.got)
	assert.Equal(t, []byte{0xAA, 1, 2, 3}, resp)

	board.err = errors.New("timeout")
	_, err = c.Send([]byte{4})
	assert.EqualError(t, err, "timeout")

	bad := modbushttp.NewClient(ts.URL+"/api/send", "wrong", 1, time.Second)
	_, err = bad.Send([]byte{1})
	assert.Error(t, err)

	r, err := http.Post(ts.URL+"/api/send", "application/octet-stream", bytes.NewReader(nil))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r.StatusCode)
}
