package usecase

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"wakeassist/internal/domain"
)

const (
	replyNotUnderstood = "抱歉，我不明白"
	timeLayout         = "2006年01月02日 15:04:05"
)

type commandHandler func(ctx context.Context) string

// commandDispatcher is the free-text command handler: exact key first, then
// substring containment. Vocabulary commands without a handler are
// acknowledged by name.
type commandDispatcher struct {
	handlers map[string]commandHandler
	order    []string
	now      func() time.Time
	started  time.Time
}

func newCommandDispatcher(now func() time.Time) *commandDispatcher {
	d := &commandDispatcher{
		handlers: make(map[string]commandHandler),
		now:      now,
		started:  now(),
	}
	d.register("打开设置", func(context.Context) string { return "正在打开设置..." })
	d.register("关闭程序", func(context.Context) string { return "正在关闭程序..." })
	d.register("显示时间", d.currentTime)
	d.register("帮助信息", d.help)
	d.register("当前状态", d.status)
	return d
}

func (d *commandDispatcher) register(key string, handler commandHandler) {
	if _, exists := d.handlers[key]; !exists {
		d.order = append(d.order, key)
	}
	d.handlers[key] = handler
}

// Dispatch returns the reply to show and whether the command was handled.
func (d *commandDispatcher) Dispatch(ctx context.Context, record domain.CommandRecord) (string, bool) {
	text := record.RawText
	if record.Matched {
		text = record.MatchedCommand
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return replyNotUnderstood, false
	}

	if handler, ok := d.handlers[text]; ok {
		return handler(ctx), true
	}
	for _, key := range d.order {
		if strings.Contains(text, key) {
			return d.handlers[key](ctx), true
		}
	}
	if record.Matched {
		return "命令: " + record.MatchedCommand, true
	}
	return replyNotUnderstood, false
}

func (d *commandDispatcher) currentTime(context.Context) string {
	return "当前时间是：" + d.now().Format(timeLayout)
}

func (d *commandDispatcher) help(context.Context) string {
	var b strings.Builder
	b.WriteString("可用命令:")
	for _, key := range d.order {
		if key == "帮助信息" {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(key)
	}
	return b.String()
}

func (d *commandDispatcher) status(context.Context) string {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	uptime := d.now().Sub(d.started).Truncate(time.Second)
	return fmt.Sprintf("系统状态信息:\n- 内存使用: %dMB\n- 程序运行时间: %s\n- 当前协程数: %d",
		mem.HeapAlloc/(1024*1024), uptime, runtime.NumGoroutine())
}
