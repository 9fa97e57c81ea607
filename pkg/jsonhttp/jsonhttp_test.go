// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonhttp_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/catalystnet/catalyst/pkg/jsonhttp"
)

func TestRespond(t *testing.T) {
	for _, tc := range []struct {
		name        string
		code        int
		response    interface{}
		wantCode    int
		wantMessage string
	}{
		{name: "default message", code: http.StatusNotFound, wantCode: http.StatusNotFound, wantMessage: "Not Found"},
		{name: "custom message", code: http.StatusBadRequest, response: "invalid id", wantCode: http.StatusBadRequest, wantMessage: "invalid id"},
		{name: "zero code", response: "fine", wantCode: http.StatusOK, wantMessage: "fine"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			jsonhttp.Respond(w, tc.code, tc.response)

			if got := w.Result().StatusCode; got != tc.wantCode {
				t.Errorf("got status code %d, want %d", got, tc.wantCode)
			}
			if got := w.Header().Get("Content-Type"); got != jsonhttp.DefaultContentTypeHeader {
				t.Errorf("got content type %q, want %q", got, jsonhttp.DefaultContentTypeHeader)
			}

			var m jsonhttp.StatusResponse
			if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
				t.Fatal(err)
			}
			if m.Code != tc.wantCode {
				t.Errorf("got message code %d, want %d", m.Code, tc.wantCode)
			}
			if m.Message != tc.wantMessage {
				t.Errorf("got message %q, want %q", m.Message, tc.wantMessage)
			}
		})
	}
}

func TestRespondStruct(t *testing.T) {
	w := httptest.NewRecorder()

	jsonhttp.OK(w, struct {
		Value string `json:"value"`
	}{Value: "<a>"})

	want := "{\"value\":\"<a>\"}\n\n"
	if got := w.Body.String(); got != want {
		t.Errorf("got body %q, want %q", got, want)
	}
}
