package routing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/R3E-Network/ocn-node/internal/domain/proxy"
	svcerrors "github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

const responseURLField = "response_url"

// RewriteCommandResponseURL replaces the response_url of a command request
// with a route on this node, so the receiving CPO posts the async result here.
// The proxy is stored with sender and receiver swapped: the CPO sends the
// result, the original sender receives it. Bodies without a response_url are
// returned unchanged.
func (s *Service) RewriteCommandResponseURL(ctx context.Context, vars ocpi.RequestVariables, command string) (json.RawMessage, error) {
	if len(vars.Body) == 0 {
		return vars.Body, nil
	}
	if !gjson.ValidBytes(vars.Body) {
		return nil, svcerrors.Validation("Request body is not valid JSON")
	}

	target := gjson.GetBytes(vars.Body, responseURLField)
	if !target.Exists() || target.String() == "" {
		return vars.Body, nil
	}

	id, err := s.setProxyResource(ctx, proxy.Resource{
		Sender:         vars.Headers.Receiver,
		Receiver:       vars.Headers.Sender,
		Module:         ocpi.ModuleCommands,
		Resource:       target.String(),
		AlternativeUID: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	rewritten, err := sjson.SetBytes(vars.Body, responseURLField, fmt.Sprintf("%s/ocpi/sender/2.2/commands/%s/%s", s.nodeURL, command, id))
	if err != nil {
		return nil, svcerrors.Internal("rewrite response_url", err)
	}
	return rewritten, nil
}
