package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// WorkspaceLocator resolves a workspace id to the host and container
// currently backing it. Implemented by the orchestrator's workspace store
// lookup; kept as an interface here so compute never imports storage.
type WorkspaceLocator interface {
	Locate(ctx context.Context, workspaceID string) (hostID, containerID string, err error)
}

// Client adapts Driver to toolexec.RemoteExecClient, resolving a workspace
// id to its host/container pair and dispatching write, command, and git
// category tool calls through the uniform exec facade.
type Client struct {
	driver   *Driver
	locator  WorkspaceLocator
	execTime time.Duration
}

// NewClient wires a Driver and WorkspaceLocator into a Client suitable for
// toolexec.New's RemoteExecClient argument.
func NewClient(driver *Driver, locator WorkspaceLocator) *Client {
	return &Client{driver: driver, locator: locator, execTime: execTimeout}
}

type commandArgs struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
	TimeoutS   int    `json:"timeout_s,omitempty"`
}

type fileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

type gitArgs struct {
	Op      string   `json:"op"`
	RepoDir string   `json:"repo_dir,omitempty"`
	Paths   []string `json:"paths,omitempty"`
	Message string   `json:"message,omitempty"`
	Remote  string   `json:"remote,omitempty"`
	Branch  string   `json:"branch,omitempty"`
	Ref     string   `json:"ref,omitempty"`
	Base    string   `json:"base,omitempty"`
	Head    string   `json:"head,omitempty"`
	Path    string   `json:"path,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Dispatch implements toolexec.RemoteExecClient.
func (c *Client) Dispatch(ctx context.Context, workspaceID, toolName string, args json.RawMessage) (json.RawMessage, error) {
	hostID, containerID, err := c.locator.Locate(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("compute: locate workspace %s: %w", workspaceID, err)
	}

	switch toolName {
	case "run_command":
		var a commandArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		timeout := c.execTime
		if a.TimeoutS > 0 {
			timeout = time.Duration(a.TimeoutS) * time.Second
		}
		result, err := c.driver.Exec(ctx, hostID, containerID, a.Command, a.WorkingDir, timeout)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "list_files":
		var a fileArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		result, err := c.driver.FileList(ctx, hostID, containerID, a.Path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "read_file":
		var a fileArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		result, err := c.driver.FileRead(ctx, hostID, containerID, a.Path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "write_file":
		var a fileArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		result, err := c.driver.FileWrite(ctx, hostID, containerID, a.Path, a.Content)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "delete_file":
		var a fileArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		result, err := c.driver.FileDelete(ctx, hostID, containerID, a.Path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case "git_op":
		return c.dispatchGit(ctx, hostID, containerID, args)
	}

	return nil, fmt.Errorf("compute: unrecognized remote-exec tool %q", toolName)
}

func (c *Client) dispatchGit(ctx context.Context, hostID, containerID string, args json.RawMessage) (json.RawMessage, error) {
	var a gitArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	git := c.driver.Git()

	var result ExecResult
	var err error
	switch a.Op {
	case "status":
		result, err = git.Status(ctx, hostID, containerID, a.RepoDir)
	case "log":
		limit := a.Limit
		if limit <= 0 {
			limit = 20
		}
		result, err = git.Log(ctx, hostID, containerID, a.RepoDir, limit)
	case "diff":
		result, err = git.Diff(ctx, hostID, containerID, a.RepoDir)
	case "branches":
		result, err = git.Branches(ctx, hostID, containerID, a.RepoDir)
	case "stage":
		result, err = git.Stage(ctx, hostID, containerID, a.RepoDir, a.Paths...)
	case "unstage":
		result, err = git.Unstage(ctx, hostID, containerID, a.RepoDir, a.Paths...)
	case "commit":
		result, err = git.Commit(ctx, hostID, containerID, a.RepoDir, a.Message)
	case "push":
		result, err = git.Push(ctx, hostID, containerID, a.RepoDir, a.Remote, a.Branch)
	case "pull":
		result, err = git.Pull(ctx, hostID, containerID, a.RepoDir, a.Remote, a.Branch)
	case "checkout":
		result, err = git.Checkout(ctx, hostID, containerID, a.RepoDir, a.Ref)
	case "worktree_merge":
		result, err = git.WorktreeMerge(ctx, hostID, containerID, a.RepoDir, a.Branch)
	case "merge_preview":
		result, err = git.MergePreview(ctx, hostID, containerID, a.RepoDir, a.Branch)
	case "branch_compare":
		result, err = git.BranchCompare(ctx, hostID, containerID, a.RepoDir, a.Base, a.Head)
	case "worktree_delete":
		result, err = git.WorktreeDelete(ctx, hostID, containerID, a.RepoDir, a.Path)
	default:
		return nil, fmt.Errorf("compute: unrecognized git op %q", a.Op)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
