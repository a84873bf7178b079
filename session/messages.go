// ABOUTME: Messages carried on the session inbox: caller requests and asynchronous results.
// ABOUTME: Every source of change (HTTP, channel, poll, history) is one of these types.
package session

import (
	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/channel"
)

type message interface {
	isMessage()
}

type submitReply struct {
	projectID string
	err       error
}

type runReply struct {
	resp backend.RunResponse
	err  error
}

type submitMsg struct {
	prompt string
	reply  chan submitReply
}

type submitResult struct {
	epoch     uint64
	projectID string
	err       error
}

type runMsg struct {
	projectID string
	reply     chan runReply
}

type runResult struct {
	projectID string
	attempt   uint64
	resp      backend.RunResponse
	err       error
}

type stopMsg struct {
	projectID string
	reply     chan error
}

type stopResult struct {
	projectID string
	err       error
}

type joinResult struct {
	projectID string
	err       error
}

type pollResult struct {
	ids []string
}

type historyResult struct {
	items []backend.ProjectSummary
	err   error
}

type clearMsg struct {
	done chan struct{}
}

type channelMsg struct {
	ev channel.Event
}

func (submitMsg) isMessage()     {}
func (submitResult) isMessage()  {}
func (runMsg) isMessage()        {}
func (runResult) isMessage()     {}
func (stopMsg) isMessage()       {}
func (stopResult) isMessage()    {}
func (joinResult) isMessage()    {}
func (pollResult) isMessage()    {}
func (historyResult) isMessage() {}
func (clearMsg) isMessage()      {}
func (channelMsg) isMessage()    {}
