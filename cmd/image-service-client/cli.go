package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/DMarby/imageservice-client/imageservice"
)

// CLI runs commands against an image service and writes their results as json
type CLI struct {
	Service imageservice.Service
	Params  *imageservice.Params
	Out     io.Writer
	Serve   func(ctx context.Context) error
}

// lister is implemented by adapters that can list their images
type lister interface {
	List(ctx context.Context) ([]imageservice.Image, error)
}

type urlsOutput struct {
	URLs   map[string]string `json:"urls"`
	Errors map[string]string `json:"errors,omitempty"`
}

var errUsage = errors.New("invalid arguments, see -help")

// Run executes the command in args
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	command, args := args[0], args[1:]
	arity := map[string]int{
		"store":  1,
		"get":    1,
		"delete": 1,
		"list":   0,
		"url":    1,
		"load":   2,
		"serve":  0,
	}

	if expected, ok := arity[command]; ok && len(args) != expected {
		return fmt.Errorf("%s: %w", command, errUsage)
	}

	switch command {
	case "store":
		image, err := c.Service.Store(ctx, args[0])
		if err != nil {
			return err
		}
		return c.write(image)
	case "get":
		image, err := c.Service.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return c.write(image)
	case "delete":
		deleted, err := c.Service.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		return c.write(map[string]bool{"deleted": deleted})
	case "list":
		l, ok := c.Service.(lister)
		if !ok {
			return fmt.Errorf("list is not supported by the %s adapter", c.Service.Kind())
		}

		images, err := l.List(ctx)
		if err != nil {
			return err
		}
		return c.write(images)
	case "url":
		url, err := c.Service.HostingURL(ctx, args[0], c.Params)
		if err != nil {
			return err
		}
		return c.write(map[string]string{"url": url})
	case "urls":
		if len(args) == 0 {
			return fmt.Errorf("%s: %w", command, errUsage)
		}

		requests := make([]imageservice.URLRequest, len(args))
		for i, id := range args {
			requests[i] = imageservice.URLRequest{ID: id, Params: c.Params}
		}

		urls, err := c.Service.HostingURLs(ctx, requests)
		if err != nil {
			return err
		}

		output := urlsOutput{URLs: urls}
		for id, err := range c.Service.Errors() {
			if output.Errors == nil {
				output.Errors = make(map[string]string)
			}
			output.Errors[id] = err.Error()
		}
		return c.write(output)
	case "load":
		return c.Service.LoadRaw(ctx, args[0], args[1])
	case "serve":
		if c.Serve == nil {
			return fmt.Errorf("serve is not available")
		}
		return c.Serve(ctx)
	default:
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}
}

func (c *CLI) write(v interface{}) error {
	encoder := json.NewEncoder(c.Out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
