package chain

import (
	"context"
	"encoding/json"
	"fmt"
)

// =============================================================================
// Contract Invocation Methods
// =============================================================================

// InvokeFunction invokes a contract function (read-only).
func (c *Client) InvokeFunction(ctx context.Context, scriptHash string, method string, params []ContractParam) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParam{}
	}
	args := []interface{}{scriptHash, method, params}
	result, err := c.Call(ctx, "invokefunction", args)
	if err != nil {
		return nil, err
	}

	var invokeResult InvokeResult
	if err := json.Unmarshal(result, &invokeResult); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	return &invokeResult, nil
}

// InvokeString invokes a read-only method returning a single string. A Null
// result yields "".
func (c *Client) InvokeString(ctx context.Context, scriptHash, method string, params ...ContractParam) (string, error) {
	result, err := c.InvokeFunction(ctx, scriptHash, method, params)
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", method, err)
	}
	if !result.Halted() {
		return "", fmt.Errorf("%s failed: state %s: %s", method, result.State, result.Exception)
	}
	if len(result.Stack) == 0 {
		return "", nil
	}
	return ParseString(result.Stack[0])
}
