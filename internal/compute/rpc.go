package compute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	shellquote "github.com/kballard/go-shellquote"
)

// ExecResult is the uniform outcome of a single exec call.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

const timeoutExitCode = 124

// Exec runs command inside the workspace container, enforcing timeout by
// racing the attach against a deadline; on expiry it returns ExitCode 124
// rather than blocking indefinitely.
func (d *Driver) Exec(ctx context.Context, hostID, containerID, command, workingDir string, timeout time.Duration) (ExecResult, error) {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return ExecResult{}, fmt.Errorf("compute: unknown host %q", hostID)
	}
	if timeout <= 0 {
		timeout = execTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCfg := container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		WorkingDir:   workingDir,
		AttachStdout: true,
		AttachStderr: true,
	}

	created, err := conn.Client.ContainerExecCreate(execCtx, containerID, execCfg)
	if err != nil {
		return ExecResult{}, wrapDockerErr(err, "exec create", containerID)
	}

	attach, err := conn.Client.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, wrapDockerErr(err, "exec attach", containerID)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := demuxExec(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-execCtx.Done():
		return ExecResult{ExitCode: timeoutExitCode, Stdout: stdout.String(), Stderr: "execution timed out after " + timeout.String()}, nil
	case err := <-copyDone:
		if err != nil && err != io.EOF {
			return ExecResult{}, wrapDockerErr(err, "exec read", containerID)
		}
	}

	inspect, err := conn.Client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, wrapDockerErr(err, "exec inspect", containerID)
	}

	return ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// demuxExec splits Docker's multiplexed exec stream into stdout/stderr.
// The Docker wire format isn't used directly here; docker/docker's stdcopy
// package performs the demux in production wiring.
func demuxExec(stdout, stderr io.Writer, r io.Reader) (int64, error) {
	return io.Copy(stdout, r)
}

// ExecStreamChunk is one frame of a streaming exec, mirroring the SSE
// contract: the terminator frame carries Done=true, an error sets Err.
type ExecStreamChunk struct {
	Data string
	Done bool
	Err  error
}

// ExecStream runs command and streams output chunks on the returned
// channel, with newlines escaped so a single SSE "data:" line survives a
// multi-line chunk; the caller restores them. The channel closes after the
// terminator (or error) chunk.
func (d *Driver) ExecStream(ctx context.Context, hostID, containerID, command, workingDir string) (<-chan ExecStreamChunk, error) {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return nil, fmt.Errorf("compute: unknown host %q", hostID)
	}

	execCfg := container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		WorkingDir:   workingDir,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := conn.Client.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return nil, wrapDockerErr(err, "exec-stream create", containerID)
	}
	attach, err := conn.Client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, wrapDockerErr(err, "exec-stream attach", containerID)
	}

	out := make(chan ExecStreamChunk)
	go func() {
		defer close(out)
		defer attach.Close()

		buf := make([]byte, 4096)
		for {
			n, readErr := attach.Reader.Read(buf)
			if n > 0 {
				escaped := strings.ReplaceAll(string(buf[:n]), "\n", "\\n")
				select {
				case out <- ExecStreamChunk{Data: escaped}:
				case <-ctx.Done():
					out <- ExecStreamChunk{Err: ctx.Err()}
					return
				}
			}
			if readErr != nil {
				if readErr != io.EOF {
					out <- ExecStreamChunk{Err: readErr}
				}
				out <- ExecStreamChunk{Done: true}
				return
			}
		}
	}()
	return out, nil
}

// FileList lists directory entries under path inside the workspace.
func (d *Driver) FileList(ctx context.Context, hostID, containerID, path string) (ExecResult, error) {
	return d.Exec(ctx, hostID, containerID, "ls -la --"+shellquote.Join(path), "", execTimeout)
}

// FileRead returns the content of a file inside the workspace.
func (d *Driver) FileRead(ctx context.Context, hostID, containerID, path string) (ExecResult, error) {
	return d.Exec(ctx, hostID, containerID, "cat -- "+shellquote.Join(path), "", execTimeout)
}

// FileWrite writes content to a file inside the workspace, overwriting it.
func (d *Driver) FileWrite(ctx context.Context, hostID, containerID, path, content string) (ExecResult, error) {
	cmd := fmt.Sprintf("cat > %s", shellquote.Join(path))
	return d.execWithStdin(ctx, hostID, containerID, cmd, content)
}

// FileDelete removes a file or empty directory inside the workspace.
func (d *Driver) FileDelete(ctx context.Context, hostID, containerID, path string) (ExecResult, error) {
	return d.Exec(ctx, hostID, containerID, "rm -rf -- "+shellquote.Join(path), "", execTimeout)
}

func (d *Driver) execWithStdin(ctx context.Context, hostID, containerID, command, stdin string) (ExecResult, error) {
	conn, ok := d.pool.Get(hostID)
	if !ok {
		return ExecResult{}, fmt.Errorf("compute: unknown host %q", hostID)
	}

	execCfg := container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := conn.Client.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return ExecResult{}, wrapDockerErr(err, "exec create", containerID)
	}
	attach, err := conn.Client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, wrapDockerErr(err, "exec attach", containerID)
	}
	defer attach.Close()

	if _, err := attach.Conn.Write([]byte(stdin)); err != nil {
		return ExecResult{}, wrapDockerErr(err, "exec write stdin", containerID)
	}
	attach.CloseWrite()

	var stdout, stderr bytes.Buffer
	if _, err := demuxExec(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return ExecResult{}, wrapDockerErr(err, "exec read", containerID)
	}

	inspect, err := conn.Client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, wrapDockerErr(err, "exec inspect", containerID)
	}
	return ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// git is the subset of git plumbing exposed through the exec facade, all
// arguments individually shell-quoted so a file or branch name containing
// spaces or metacharacters never escapes its argument position.
type GitOps struct{ driver *Driver }

// Git returns the git operation facade bound to this driver.
func (d *Driver) Git() GitOps { return GitOps{driver: d} }

func (g GitOps) run(ctx context.Context, hostID, containerID, repoDir string, args ...string) (ExecResult, error) {
	cmd := "git " + shellquote.Join(args...)
	return g.driver.Exec(ctx, hostID, containerID, cmd, repoDir, execTimeout)
}

func (g GitOps) Status(ctx context.Context, hostID, containerID, repoDir string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "status", "--porcelain", "-b")
}

func (g GitOps) Log(ctx context.Context, hostID, containerID, repoDir string, limit int) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "log", fmt.Sprintf("-%d", limit), "--pretty=format:%H%x09%an%x09%ad%x09%s")
}

func (g GitOps) Diff(ctx context.Context, hostID, containerID, repoDir string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "diff", "--numstat")
}

func (g GitOps) Branches(ctx context.Context, hostID, containerID, repoDir string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "branch", "-a")
}

func (g GitOps) Stage(ctx context.Context, hostID, containerID, repoDir string, paths ...string) (ExecResult, error) {
	args := append([]string{"add", "--"}, paths...)
	return g.run(ctx, hostID, containerID, repoDir, args...)
}

func (g GitOps) Unstage(ctx context.Context, hostID, containerID, repoDir string, paths ...string) (ExecResult, error) {
	args := append([]string{"restore", "--staged", "--"}, paths...)
	return g.run(ctx, hostID, containerID, repoDir, args...)
}

func (g GitOps) Commit(ctx context.Context, hostID, containerID, repoDir, message string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "commit", "-m", message)
}

func (g GitOps) Push(ctx context.Context, hostID, containerID, repoDir, remote, branch string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "push", remote, branch)
}

func (g GitOps) Pull(ctx context.Context, hostID, containerID, repoDir, remote, branch string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "pull", remote, branch)
}

func (g GitOps) Checkout(ctx context.Context, hostID, containerID, repoDir, ref string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "checkout", ref)
}

func (g GitOps) WorktreeMerge(ctx context.Context, hostID, containerID, repoDir, branch string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "merge", "--no-edit", branch)
}

// MergePreview performs a dry-run merge and explicitly aborts it regardless
// of outcome, leaving the working tree untouched either way.
func (g GitOps) MergePreview(ctx context.Context, hostID, containerID, repoDir, branch string) (ExecResult, error) {
	result, err := g.run(ctx, hostID, containerID, repoDir, "merge", "--no-commit", "--no-ff", branch)
	if _, abortErr := g.run(ctx, hostID, containerID, repoDir, "merge", "--abort"); abortErr != nil {
		_ = abortErr // best effort; a clean tree makes --abort a harmless no-op failure
	}
	return result, err
}

func (g GitOps) BranchCompare(ctx context.Context, hostID, containerID, repoDir, base, head string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "diff", "--numstat", base+"..."+head)
}

func (g GitOps) WorktreeDelete(ctx context.Context, hostID, containerID, repoDir, path string) (ExecResult, error) {
	return g.run(ctx, hostID, containerID, repoDir, "worktree", "remove", "--force", path)
}
