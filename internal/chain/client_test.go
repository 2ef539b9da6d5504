package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// rpcServer answers every call with the given result or error.
func rpcServer(t *testing.T, handle func(req RPCRequest) RPCResponse) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(handle(req))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewClient_Defaults(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("NewClient() without RPC URL should fail")
	}

	client, err := NewClient(Config{RPCURL: "http://localhost:10332", NetworkID: 894710606})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", client.httpClient.Timeout)
	}
	if client.NetworkID() != 894710606 {
		t.Errorf("NetworkID() = %d, want 894710606", client.NetworkID())
	}
}

func TestCall_ReturnsRPCError(t *testing.T) {
	server := rpcServer(t, func(req RPCRequest) RPCResponse {
		return RPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: -32601, Message: "Method not found"}}
	})
	client, _ := NewClient(Config{RPCURL: server.URL})

	_, err := client.Call(context.Background(), "nosuchmethod", nil)
	if err == nil {
		t.Fatal("Call() should return the rpc error")
	}
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("error type = %T, want *RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("code = %d, want -32601", rpcErr.Code)
	}
}

func TestGetBlockCount(t *testing.T) {
	server := rpcServer(t, func(req RPCRequest) RPCResponse {
		if req.Method != "getblockcount" {
			t.Errorf("method = %s, want getblockcount", req.Method)
		}
		return RPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`1234`)}
	})
	client, _ := NewClient(Config{RPCURL: server.URL})

	count, err := client.GetBlockCount(context.Background())
	if err != nil {
		t.Fatalf("GetBlockCount() error = %v", err)
	}
	if count != 1234 {
		t.Errorf("count = %d, want 1234", count)
	}
}

func TestInvokeString(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("https://ocn.client.net"))
	server := rpcServer(t, func(req RPCRequest) RPCResponse {
		if req.Method != "invokefunction" {
			t.Errorf("method = %s, want invokefunction", req.Method)
		}
		if len(req.Params) != 3 || req.Params[1] != "getNodeURL" {
			t.Errorf("params = %v", req.Params)
		}
		result, _ := json.Marshal(InvokeResult{
			State: "HALT",
			Stack: []StackItem{{Type: "ByteString", Value: json.RawMessage(`"` + encoded + `"`)}},
		})
		return RPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	})
	client, _ := NewClient(Config{RPCURL: server.URL})

	got, err := client.InvokeString(context.Background(), "0x01", "getNodeURL", NewStringParam("CH"), NewStringParam("ABC"))
	if err != nil {
		t.Fatalf("InvokeString() error = %v", err)
	}
	if got != "https://ocn.client.net" {
		t.Errorf("InvokeString() = %q, want https://ocn.client.net", got)
	}
}

func TestInvokeString_Fault(t *testing.T) {
	server := rpcServer(t, func(req RPCRequest) RPCResponse {
		result, _ := json.Marshal(InvokeResult{State: "FAULT", Exception: "boom"})
		return RPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	})
	client, _ := NewClient(Config{RPCURL: server.URL})

	if _, err := client.InvokeString(context.Background(), "0x01", "getNodeURL"); err == nil {
		t.Fatal("InvokeString() should fail on FAULT")
	}
}

func TestParseString(t *testing.T) {
	tests := []struct {
		name    string
		item    StackItem
		want    string
		wantErr bool
	}{
		{"bytestring", StackItem{Type: "ByteString", Value: json.RawMessage(`"aGVsbG8="`)}, "hello", false},
		{"null", StackItem{Type: "Null"}, "", false},
		{"any", StackItem{Type: "Any"}, "", false},
		{"integer", StackItem{Type: "Integer", Value: json.RawMessage(`"1"`)}, "", true},
		{"bad base64", StackItem{Type: "ByteString", Value: json.RawMessage(`"%%%"`)}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseString(tt.item)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseString() = %q, want %q", got, tt.want)
			}
		})
	}
}
