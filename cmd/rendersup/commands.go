package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/loykin/rendersup/pkg/client"
)

func newAPIClient(f APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

func cmdStatus(ctx context.Context, out io.Writer, f StatusFlags) error {
	if err := checkOutput(f.Output); err != nil {
		return err
	}
	c := newAPIClient(f.APIFlags)
	if f.ID != "" {
		st, err := c.Status(ctx, f.ID)
		if err != nil {
			return err
		}
		return printStatuses(out, f.Output, []client.SurfaceStatus{st})
	}
	sts, err := c.List(ctx, f.Match)
	if err != nil {
		return err
	}
	return printStatuses(out, f.Output, sts)
}

func cmdReports(ctx context.Context, out io.Writer, f ReportsFlags) error {
	if err := checkOutput(f.Output); err != nil {
		return err
	}
	c := newAPIClient(f.APIFlags)
	reps, err := c.Reports(ctx, f.Limit)
	if err != nil {
		return err
	}
	if err := printReports(out, f.Output, reps); err != nil {
		return err
	}
	if !f.Follow {
		return nil
	}
	err = c.StreamReports(ctx, func(r client.Report) error {
		return printReports(out, f.Output, []client.Report{r})
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func cmdAttach(ctx context.Context, out io.Writer, f AttachFlags) error {
	if f.ID == "" {
		return fmt.Errorf("surface id is required")
	}
	if err := checkOutput(f.Output); err != nil {
		return err
	}
	st, err := newAPIClient(f.APIFlags).Attach(ctx, client.AttachRequest{ID: f.ID, HomeURL: f.HomeURL, Recovery: f.Recovery})
	if err != nil {
		return err
	}
	return printStatuses(out, f.Output, []client.SurfaceStatus{st})
}

func cmdDetach(ctx context.Context, out io.Writer, f DetachFlags) error {
	if f.ID == "" {
		return fmt.Errorf("surface id is required")
	}
	if err := newAPIClient(f.APIFlags).Detach(ctx, f.ID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "detached %s\n", f.ID)
	return err
}

func cmdSignal(ctx context.Context, out io.Writer, f SignalFlags) error {
	if err := checkOutput(f.Output); err != nil {
		return err
	}
	st, err := newAPIClient(f.APIFlags).Signal(ctx, f.ID, client.SignalRequest{
		Kind:  f.Kind,
		URL:   f.URL,
		Error: f.Error,
		Hint:  f.Hint,
	})
	if err != nil {
		return err
	}
	return printStatuses(out, f.Output, []client.SurfaceStatus{st})
}
