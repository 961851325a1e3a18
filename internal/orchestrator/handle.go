package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
)

const timeoutHandlePrefix = "question-timeout:"

// TimeoutHandle is the handle of the question timeout job with the given id.
func TimeoutHandle(jobID int64) string {
	return timeoutHandlePrefix + strconv.FormatInt(jobID, 10)
}

// ParseTimeoutHandle returns the job id of a timeout handle. ok is false for
// any other handle, which is then a run handle.
func ParseTimeoutHandle(handle string) (jobID int64, ok bool, err error) {
	rest, found := strings.CutPrefix(handle, timeoutHandlePrefix)
	if !found {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, true, fmt.Errorf("malformed timeout handle %q", handle)
	}
	return id, true, nil
}
