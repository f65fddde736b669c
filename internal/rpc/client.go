package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/paw2paw/hf-behavior/go-controller/internal/adapt"
	"github.com/paw2paw/hf-behavior/go-controller/internal/cascade"
	"github.com/paw2paw/hf-behavior/go-controller/internal/playbook"
)

// Client calls a remote TargetService and decodes responses into the local types.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, name string, req map[string]interface{}, out interface{}) error {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, in, resp); err != nil {
		return err
	}
	return decode(resp, out)
}

// RunAdaptation runs the rule engine for one caller on the server.
func (c *Client) RunAdaptation(ctx context.Context, callerID string) (adapt.Result, error) {
	var res adapt.Result
	err := c.invoke(ctx, "RunAdaptation", map[string]interface{}{"caller_id": callerID}, &res)
	return res, err
}

// ResolveTargets fetches a caller's cascade.
func (c *Client) ResolveTargets(ctx context.Context, callerID string) (*cascade.Resolution, error) {
	var res cascade.Resolution
	if err := c.invoke(ctx, "ResolveTargets", map[string]interface{}{"caller_id": callerID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResolveCallTargets fetches a call's cascade with measurements.
func (c *Client) ResolveCallTargets(ctx context.Context, callID string) (*cascade.Resolution, error) {
	var res cascade.Resolution
	if err := c.invoke(ctx, "ResolveCallTargets", map[string]interface{}{"call_id": callID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PlaybookTargets fetches the admin view of a playbook.
func (c *Client) PlaybookTargets(ctx context.Context, playbookID string) ([]playbook.Row, error) {
	var res struct {
		Targets []playbook.Row `json:"targets"`
	}
	if err := c.invoke(ctx, "PlaybookTargets", map[string]interface{}{"playbook_id": playbookID}, &res); err != nil {
		return nil, err
	}
	return res.Targets, nil
}

// PatchPlaybookTargets applies a batch of changes on the server.
func (c *Client) PatchPlaybookTargets(ctx context.Context, playbookID string, changes []playbook.Change) (playbook.PatchResult, error) {
	list := make([]interface{}, 0, len(changes))
	for _, ch := range changes {
		var value interface{}
		if ch.TargetValue != nil {
			value = *ch.TargetValue
		}
		list = append(list, map[string]interface{}{"parameterId": ch.ParameterID, "targetValue": value})
	}
	var res playbook.PatchResult
	err := c.invoke(ctx, "PatchPlaybookTargets", map[string]interface{}{"playbook_id": playbookID, "changes": list}, &res)
	return res, err
}
