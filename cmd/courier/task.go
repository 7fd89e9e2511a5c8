package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vinayprograms/courier/taskstore"
)

// withTasks opens the configured task store for a one-shot command.
func withTasks(g *Globals, fn func(ctx context.Context, tasks *taskstore.Store) error) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	if cfg.Store.Backend != "nats" {
		fmt.Fprintln(os.Stderr, "note: the memory task store lives inside a serve process; nothing is shared")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rt, err := build(ctx, cfg, logger, buildOptions{})
	if err != nil {
		return err
	}
	defer rt.stop.Shutdown(context.Background())
	return fn(ctx, rt.tasks)
}

// Run prints the task as indented JSON.
func (c *TaskShowCmd) Run(g *Globals) error {
	return withTasks(g, func(ctx context.Context, tasks *taskstore.Store) error {
		task, err := tasks.Get(ctx, c.ID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	})
}

// Run prints one task id per line.
func (c *TaskListCmd) Run(g *Globals) error {
	return withTasks(g, func(ctx context.Context, tasks *taskstore.Store) error {
		ids, err := tasks.List(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	})
}

// Run deletes the named tasks, or all of them with --all.
func (c *TaskPurgeCmd) Run(g *Globals) error {
	if len(c.IDs) == 0 && !c.All {
		return fmt.Errorf("name task ids or pass --all")
	}
	return withTasks(g, func(ctx context.Context, tasks *taskstore.Store) error {
		ids := c.IDs
		if c.All {
			all, err := tasks.List(ctx)
			if err != nil {
				return err
			}
			ids = all
		}
		for _, id := range ids {
			if err := tasks.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
		}
		fmt.Printf("deleted %d task(s)\n", len(ids))
		return nil
	})
}
