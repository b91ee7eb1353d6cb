package workflow

import (
	"fmt"
	"strings"
)

const (
	msgRefused          = "Looks like you are trying to do something you are not allowed to."
	msgNoPeriods        = "No periods have been created yet."
	msgNotANumber       = "Please send the period number as digits."
	msgSendFile         = "Please send your work as a file attachment."
	msgCommentOrDone    = "Send a comment for your reviewer, or %s to finish."
	msgCommentSaved     = "Your reviewer will see your comment."
	msgCancelled        = "Cancelled."
	msgTransport        = "Something went wrong while transferring the file. Please try again."
	msgStoreFailure     = "The record store is busy. Please repeat the last step."
	msgWrongParticipant = "That number is not in your list. Send a valid number or /next."
	msgNothingPending   = "Nothing pending. Pick another period with /task or finish with /cancel."
	msgVerdictSaved     = "Verdict recorded."
	msgAllReviewed      = "Everything for period %d is reviewed. Pick another period with /task or finish with /cancel."
	msgAwaitVerdict     = "Send your verdict as text, or /next, /all, /task."
	msgUnknownCommand   = "That command is not available here. Use /cancel to leave."
)

func say(msg string) Reply {
	return Reply{Text: msg}
}

func sayf(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

func askSubmissionPeriod(choices []string) Reply {
	return Reply{
		Text:    "Great! Which assignment are you submitting? Send its number.",
		Choices: choices,
	}
}

func askReviewPeriod(choices []string) Reply {
	return Reply{
		Text:    "Send the number of the assignment you want to review.",
		Choices: choices,
	}
}

func readyForFile(period int) Reply {
	return sayf("Great! You are submitting assignment %d. Send me your file.", period)
}

func unknownPeriod(period int) Reply {
	return sayf("Period %d does not exist. Send another number.", period)
}

func fileReceived(reviewer, doneToken string) Reply {
	var b strings.Builder
	b.WriteString("File received.\n")
	if reviewer != "" {
		fmt.Fprintf(&b, "Your reviewer is %s.\n", reviewer)
	}
	fmt.Fprintf(&b, msgCommentOrDone, doneToken)
	return Reply{Text: b.String(), Choices: []string{doneToken}}
}

func submissionAccepted(period int) Reply {
	return sayf("Assignment %d accepted. Good luck with the course!", period)
}

func reviewStarted(period int, summary string) Reply {
	return sayf("Starting review of assignment %d.\n\n%s", period, summary)
}

func participantCard(name, handle, comment string) Reply {
	msg := fmt.Sprintf("%s: %s", name, handle)
	if comment != "" {
		msg += "\nComment:\n" + comment
	}
	return say(msg)
}
