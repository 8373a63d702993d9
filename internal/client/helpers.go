package client

import (
	"context"
	"fmt"

	"taskrpc/internal/operation"
)

// checkData accepts a single record or a list of records.
func checkData(op string, data any) error {
	switch data.(type) {
	case map[string]any, []any, []map[string]any:
		return nil
	default:
		return fmt.Errorf("%w: %s data must be a map or a list, got %T", ErrInvalidRequest, op, data)
	}
}

func checkModel(op, model string) error {
	if model == "" {
		return fmt.Errorf("%w: %s needs a model", ErrInvalidRequest, op)
	}
	return nil
}

func dataOp(name, model string, data any, kwargs map[string]any) (operation.Operation, error) {
	if err := checkModel(name, model); err != nil {
		return operation.Operation{}, err
	}
	if err := checkData(name, data); err != nil {
		return operation.Operation{}, err
	}
	return operation.New(name, []any{model, data}, kwargs, operation.Options{}), nil
}

func (c *Client) submitData(ctx context.Context, name, model string, data any, kwargs map[string]any, opts []Option) (any, error) {
	op, err := dataOp(name, model, data, kwargs)
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, op, opts...)
}

// Filter returns the records of model matching kwargs (filters, exclude,
// order_by, offset, limit, fields).
func (c *Client) Filter(ctx context.Context, model string, kwargs map[string]any, opts ...Option) (any, error) {
	if err := checkModel(operation.Filter, model); err != nil {
		return nil, err
	}
	return c.Submit(ctx, operation.New(operation.Filter, []any{model}, kwargs, operation.Options{}), opts...)
}

func (c *Client) Update(ctx context.Context, model string, data any, kwargs map[string]any, opts ...Option) (any, error) {
	return c.submitData(ctx, operation.Update, model, data, kwargs, opts)
}

// GetSet updates like Update but returns the values before the update.
func (c *Client) GetSet(ctx context.Context, model string, data any, kwargs map[string]any, opts ...Option) (any, error) {
	return c.submitData(ctx, operation.GetSet, model, data, kwargs, opts)
}

func (c *Client) UpdateOrCreate(ctx context.Context, model string, data any, kwargs map[string]any, opts ...Option) (any, error) {
	return c.submitData(ctx, operation.UpdateOrCreate, model, data, kwargs, opts)
}

func (c *Client) Create(ctx context.Context, model string, data any, kwargs map[string]any, opts ...Option) (any, error) {
	return c.submitData(ctx, operation.Create, model, data, kwargs, opts)
}

func (c *Client) Delete(ctx context.Context, model string, data any, kwargs map[string]any, opts ...Option) (any, error) {
	return c.submitData(ctx, operation.Delete, model, data, kwargs, opts)
}

// Call runs a function registered on the worker.
func (c *Client) Call(ctx context.Context, function string, args []any, kwargs map[string]any, opts ...Option) (any, error) {
	if function == "" {
		return nil, fmt.Errorf("%w: call needs a function name", ErrInvalidRequest)
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.Submit(ctx, operation.New(operation.Call, []any{function, args, kwargs}, nil, operation.Options{}), opts...)
}
