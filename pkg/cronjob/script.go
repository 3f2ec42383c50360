package cronjob

import (
	"context"
	"os/exec"

	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

// execRunner runs account gate scripts as local processes, passing the
// username as the single argument.
type execRunner struct{}

func NewScriptRunner() workflow.ScriptRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, script, username string) error {
	cmd := exec.CommandContext(ctx, script, username)
	out, err := cmd.CombinedOutput()
	if err != nil {
		klog.Errorf("cronjob: %s %s: %v (output: %s)", script, username, err, out)
		return err
	}
	return nil
}
