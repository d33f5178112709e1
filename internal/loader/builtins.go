package loader

import (
	"fmt"
	"strconv"

	"github.com/me/os3/internal/user"
	"github.com/me/os3/pkg/model"
)

func bundled() []Builtin {
	return []Builtin{
		{
			Name:        "hello",
			Description: "print a greeting and exit",
			Build: func(args []string) (user.Main, error) {
				return func(l *user.Lib) int32 {
					l.Println("Hello, world!")
					return 0
				}, nil
			},
		},
		{
			Name:        "power",
			Description: "compute base^iter mod 998244353, yielding at every progress report (args: base iter)",
			Build:       buildPower,
		},
		{
			Name:        "yielder",
			Description: "print and yield for a number of rounds (args: rounds)",
			Build: func(args []string) (user.Main, error) {
				rounds, err := intArg(args, 0, 3)
				if err != nil {
					return nil, err
				}
				return func(l *user.Lib) int32 {
					pid := l.GetPid()
					for i := 0; i < rounds; i++ {
						l.Printf("yielder %d: round %d/%d\n", pid, i+1, rounds)
						l.Yield()
					}
					return 0
				}, nil
			},
		},
		{
			Name:        "sleeper",
			Description: "yield until a number of milliseconds have passed (args: ms)",
			Build: func(args []string) (user.Main, error) {
				ms, err := intArg(args, 0, 10)
				if err != nil {
					return nil, err
				}
				return func(l *user.Lib) int32 {
					start := l.GetTime()
					l.Sleep(int64(ms))
					l.Printf("sleeper %d: woke after %d ms\n", l.GetPid(), l.GetTime()-start)
					return 0
				}, nil
			},
		},
		{
			Name:        "counter",
			Description: "make a known number of syscalls and check them with task_info",
			Build: func(args []string) (user.Main, error) {
				return counterMain, nil
			},
		},
		{
			Name:        "exit",
			Description: "exit immediately with the given code (args: code)",
			Build: func(args []string) (user.Main, error) {
				code, err := intArg(args, 0, 0)
				if err != nil {
					return nil, err
				}
				return func(*user.Lib) int32 { return int32(code) }, nil
			},
		},
	}
}

func buildPower(args []string) (user.Main, error) {
	const (
		mod    = 998244353
		length = 100
	)
	base, err := intArg(args, 0, 3)
	if err != nil {
		return nil, err
	}
	iter, err := intArg(args, 1, 100_000)
	if err != nil {
		return nil, err
	}
	step := iter / 5
	if step == 0 {
		step = 1
	}

	return func(l *user.Lib) int32 {
		var s [length]uint64
		cur := 0
		s[cur] = 1
		for i := 1; i <= iter; i++ {
			next := (cur + 1) % length
			s[next] = s[cur] * uint64(base) % mod
			cur = next
			if i%step == 0 {
				l.Printf("power_%d [%d/%d]\n", base, i, iter)
				l.Yield()
			}
		}
		l.Printf("%d^%d = %d(MOD %d)\n", base, iter, s[cur], mod)
		l.Printf("Test power_%d OK!\n", base)
		return 0
	}, nil
}

// counterMain issues three writes and two yields, then checks that task_info
// reports exactly those plus itself.
func counterMain(l *user.Lib) int32 {
	for i := 0; i < 3; i++ {
		l.Printf("counter %d: write %d\n", l.GetPid(), i)
	}
	l.Yield()
	l.Yield()

	var ti model.TaskInfo
	if l.TaskInfo(&ti) != 0 {
		l.Println("counter: task_info failed")
		return 1
	}
	want := map[model.SyscallID]uint32{
		model.SysWrite:    3,
		model.SysGetPid:   3,
		model.SysYield:    2,
		model.SysTaskInfo: 1,
	}
	got := ti.Counts()
	ok := ti.Status == model.TaskStatusRunning && len(got) == len(want)
	for id, n := range want {
		if got[id] != n {
			ok = false
		}
	}
	if !ok {
		l.Printf("counter: unexpected task_info %s %v\n", ti.Status, got)
		return 1
	}
	l.Printf("counter: task_info ok, running for %d ms\n", ti.Time)
	return 0
}

func intArg(args []string, i, def int) (int, error) {
	if i >= len(args) || args[i] == "" {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i, err)
	}
	return n, nil
}
