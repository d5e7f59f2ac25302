package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleStack = `goroutine 1 [running]:
runtime/debug.Stack(0x0, 0x0, 0x0)
	/usr/local/go/src/runtime/debug/stack.go:24 +0x9d
github.com/twitter/rulecomp/common/log/hooks.contextHook.Fire(0x0, 0x0)
	/src/github.com/twitter/rulecomp/common/log/hooks/context_hook.go:29 +0x26
github.com/sirupsen/logrus.LevelHooks.Fire(0x0)
	/go/pkg/mod/github.com/sirupsen/logrus@v1.4.2/hooks.go:28 +0x91
github.com/sirupsen/logrus.(*Entry).log(0x0)
	/go/pkg/mod/github.com/sirupsen/logrus@v1.4.2/entry.go:221 +0x2b3
github.com/twitter/rulecomp/orchestrator.(*Scheduler).submit(0x0)
	/src/github.com/twitter/rulecomp/orchestrator/scheduler.go:88 +0x1a0
`

func TestCallerLocationSkipsLogrusFrames(t *testing.T) {
	assert.Equal(t, "orchestrator/scheduler.go:88", callerLocation(sampleStack))
}

func TestCallerLocationWithoutHookFrame(t *testing.T) {
	assert.Equal(t, "", callerLocation("goroutine 1 [running]:\n"))
}
