package main

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Decision is what a role agent returns for any decision point.
type Decision struct {
	Action    string // pass, kill, check, save, poison, vote, shoot, no_shoot
	Target    int    // 0 = no target
	Reasoning string
}

// RoleAgent produces decisions for one seat. Backend failures never escape:
// every method falls back to a deterministic legal choice, so the game can
// always progress.
type RoleAgent interface {
	DecideNightAction(ctx context.Context, view VisibleState) Decision
	DecideSpeech(ctx context.Context, view VisibleState) string
	DecideVote(ctx context.Context, view VisibleState) Decision
	DecideShoot(ctx context.Context, view VisibleState, reason DeathReason) Decision
}

// llmAgent delegates to a generative backend with a role-specific prompt and
// parses a structured decision out of the reply. A nil model is legal and
// means fallback-only play.
type llmAgent struct {
	role     Role
	seat     int
	model    llms.Model
	callOpts []llms.CallOption
}

// newRoleAgent builds the agent for a seat. The same constructor serves AI
// seats and human-timeout takeovers.
func newRoleAgent(role Role, seat int, model llms.Model, callOpts []llms.CallOption) RoleAgent {
	return &llmAgent{role: role, seat: seat, model: model, callOpts: callOpts}
}

const agentSystemPrompt = `You are playing a seat in a werewolf social deduction game. Stay in character for your role. Answer in exactly this format, nothing else:
ACTION: <one word>
TARGET: <seat number, or 0 for none>
REASON: <one short sentence>`

func (a *llmAgent) DecideNightAction(ctx context.Context, view VisibleState) Decision {
	// Villagers and hunters have no night power; no backend call needed.
	if a.role == RoleVillager || a.role == RoleHunter {
		return Decision{Action: "pass", Reasoning: "no night action"}
	}

	d, err := a.generate(ctx, a.nightPrompt(view))
	if err == nil {
		if valid, fixed := a.validateNight(view, d); valid {
			return fixed
		}
		err = &DecisionBackendError{Op: "decide_night_action", Err: fmt.Errorf("illegal decision %q target %d", d.Action, d.Target)}
	}
	log.Printf("agent seat %d (%s): falling back on night action: %v", a.seat, a.role, err)
	DebugLog("agent", "seat %d night fallback: %v", a.seat, err)
	return a.fallbackNight(view)
}

// DecideSpeech produces this seat's day statement. Speech is free text, so
// the raw reply is used as-is; the fallback is a deliberately bland line.
func (a *llmAgent) DecideSpeech(ctx context.Context, view VisibleState) string {
	if a.model == nil {
		return "I have nothing to add today."
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem,
			"You are playing a seat in a werewolf social deduction game. Give your day-phase table talk in 1-3 sentences. Never reveal your own role directly."),
		llms.TextParts(llms.ChatMessageTypeHuman, a.speechPrompt(view)),
	}
	resp, err := a.model.GenerateContent(ctx, messages, a.callOpts...)
	if err != nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		log.Printf("agent seat %d (%s): falling back on speech: %v", a.seat, a.role, err)
		return "I have nothing to add today."
	}
	return strings.TrimSpace(resp.Choices[0].Content)
}

func (a *llmAgent) speechPrompt(view VisibleState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "It is day %d, your turn to speak. You are seat %d, the %s.\n", view.Day, view.Seat, view.Role)
	b.WriteString(rosterLines(view))
	b.WriteString(transcriptLines(view))
	if a.role == RoleWerewolf {
		fmt.Fprintf(&b, "Your hidden pack: seats %v. Deflect suspicion from them.\n", view.Teammates)
	}
	if a.role == RoleSeer && len(view.Checks) > 0 {
		b.WriteString("Your private checks:\n")
		for _, c := range view.Checks {
			fmt.Fprintf(&b, "  day %d: seat %d werewolf=%v\n", c.Day, c.Seat, c.IsWerewolf)
		}
	}
	b.WriteString("What do you say to the village?")
	return b.String()
}

func (a *llmAgent) DecideVote(ctx context.Context, view VisibleState) Decision {
	d, err := a.generate(ctx, a.votePrompt(view))
	if err == nil {
		if containsSeat(view.Candidates, d.Target) {
			d.Action = "vote"
			return d
		}
		err = &DecisionBackendError{Op: "decide_vote", Err: fmt.Errorf("target %d not a legal candidate", d.Target)}
	}
	log.Printf("agent seat %d (%s): falling back on vote: %v", a.seat, a.role, err)
	DebugLog("agent", "seat %d vote fallback: %v", a.seat, err)
	return fallbackVote(view)
}

func (a *llmAgent) DecideShoot(ctx context.Context, view VisibleState, reason DeathReason) Decision {
	// A poisoned hunter never shoots, backend or not.
	if reason == DeathPoison || !view.CanShoot {
		return Decision{Action: "no_shoot", Reasoning: "the poison stilled the trigger hand"}
	}

	d, err := a.generate(ctx, a.shootPrompt(view, reason))
	if err == nil {
		if d.Target == 0 {
			return Decision{Action: "no_shoot", Reasoning: d.Reasoning}
		}
		if containsSeat(view.Candidates, d.Target) {
			d.Action = "shoot"
			return d
		}
		err = &DecisionBackendError{Op: "decide_shoot", Err: fmt.Errorf("target %d not a legal candidate", d.Target)}
	}
	log.Printf("agent seat %d (%s): falling back on shoot: %v", a.seat, a.role, err)
	DebugLog("agent", "seat %d shoot fallback: %v", a.seat, err)
	return fallbackShoot(view, reason)
}

// ============================================================================
// Backend call and parsing
// ============================================================================

func (a *llmAgent) generate(ctx context.Context, prompt string) (Decision, error) {
	if a.model == nil {
		return Decision{}, &DecisionBackendError{Op: "generate", Err: fmt.Errorf("no backend configured")}
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, agentSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := a.model.GenerateContent(ctx, messages, a.callOpts...)
	if err != nil {
		return Decision{}, &DecisionBackendError{Op: "generate", Err: err}
	}
	if len(resp.Choices) == 0 {
		return Decision{}, &DecisionBackendError{Op: "generate", Err: fmt.Errorf("empty response")}
	}
	d, ok := parseDecision(resp.Choices[0].Content)
	if !ok {
		return Decision{}, &DecisionBackendError{Op: "parse", Err: fmt.Errorf("unparseable response %q", resp.Choices[0].Content)}
	}
	return d, nil
}

var seatNumberRe = regexp.MustCompile(`-?\d+`)

// parseDecision extracts ACTION/TARGET/REASON lines. The target is
// normalized to a bare seat number ("seat 3", "3", "Player 3" all work).
func parseDecision(text string) (Decision, bool) {
	var d Decision
	sawAction := false
	for _, line := range strings.Split(text, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "ACTION":
			d.Action = strings.ToLower(strings.Fields(value + " x")[0])
			if d.Action == "x" {
				d.Action = ""
			}
			sawAction = d.Action != ""
		case "TARGET":
			if m := seatNumberRe.FindString(value); m != "" {
				n, err := strconv.Atoi(m)
				if err == nil && n >= 0 {
					d.Target = n
				}
			}
		case "REASON":
			d.Reasoning = value
		}
	}
	return d, sawAction
}

// ============================================================================
// Prompts
// ============================================================================

func rosterLines(view VisibleState) string {
	var b strings.Builder
	b.WriteString("Alive seats:\n")
	for _, s := range view.Alive {
		fmt.Fprintf(&b, "  seat %d: %s\n", s.Seat, s.Name)
	}
	if len(view.Dead) > 0 {
		b.WriteString("Dead seats:\n")
		for _, s := range view.Dead {
			fmt.Fprintf(&b, "  seat %d: %s\n", s.Seat, s.Name)
		}
	}
	return b.String()
}

func transcriptLines(view VisibleState) string {
	if len(view.Speech) == 0 {
		return "No speeches yet.\n"
	}
	var b strings.Builder
	b.WriteString("Recent speeches:\n")
	for _, s := range view.Speech {
		fmt.Fprintf(&b, "  day %d, seat %d: %s\n", s.Day, s.Seat, s.Text)
	}
	return b.String()
}

func (a *llmAgent) nightPrompt(view VisibleState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "It is night %d. You are seat %d, the %s.\n", view.Day, view.Seat, view.Role)
	b.WriteString(rosterLines(view))
	b.WriteString(transcriptLines(view))
	switch a.role {
	case RoleWerewolf:
		fmt.Fprintf(&b, "Your pack (never target these): seats %v.\n", view.Teammates)
		fmt.Fprintf(&b, "Choose a victim from %v, or TARGET 0 to kill nobody. ACTION must be kill.\n", view.Candidates)
	case RoleSeer:
		if len(view.Checks) > 0 {
			b.WriteString("Your past checks:\n")
			for _, c := range view.Checks {
				fmt.Fprintf(&b, "  day %d: seat %d (%s) werewolf=%v\n", c.Day, c.Seat, c.Name, c.IsWerewolf)
			}
		}
		fmt.Fprintf(&b, "Choose a seat to investigate from %v. ACTION must be check.\n", view.Candidates)
	case RoleWitch:
		fmt.Fprintf(&b, "Antidote available: %v. Poison available: %v.\n", view.HasAntidote, view.HasPoison)
		if view.KillTarget != 0 {
			fmt.Fprintf(&b, "The werewolves attacked seat %d tonight.\n", view.KillTarget)
		} else {
			b.WriteString("Nobody was attacked tonight.\n")
		}
		fmt.Fprintf(&b, "ACTION save (TARGET 0) rescues the victim, ACTION poison needs a TARGET from %v, ACTION pass does nothing. You may not save and poison in the same night.\n", view.Candidates)
	}
	return b.String()
}

func (a *llmAgent) votePrompt(view VisibleState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "It is day %d, time to vote. You are seat %d, the %s.\n", view.Day, view.Seat, view.Role)
	b.WriteString(rosterLines(view))
	b.WriteString(transcriptLines(view))
	if a.role == RoleWerewolf {
		fmt.Fprintf(&b, "Your pack (protect them): seats %v.\n", view.Teammates)
	}
	if a.role == RoleSeer && len(view.Checks) > 0 {
		b.WriteString("Your private checks:\n")
		for _, c := range view.Checks {
			fmt.Fprintf(&b, "  day %d: seat %d werewolf=%v\n", c.Day, c.Seat, c.IsWerewolf)
		}
	}
	fmt.Fprintf(&b, "Vote to eliminate one seat from %v. ACTION must be vote.\n", view.Candidates)
	return b.String()
}

func (a *llmAgent) shootPrompt(view VisibleState, reason DeathReason) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are seat %d, the hunter, and you just died (%s).\n", view.Seat, reason)
	b.WriteString(rosterLines(view))
	b.WriteString(transcriptLines(view))
	fmt.Fprintf(&b, "You may take one seat with you: choose a TARGET from %v, or 0 to hold fire. ACTION must be shoot.\n", view.Candidates)
	return b.String()
}

// ============================================================================
// Validation and deterministic fallbacks
// ============================================================================

func containsSeat(candidates []int, seat int) bool {
	for _, c := range candidates {
		if c == seat {
			return true
		}
	}
	return false
}

// validateNight checks a parsed night decision against the legal set and
// normalizes the action word. Invalid decisions are replaced by the
// deterministic fallback (the caller logs the substitution).
func (a *llmAgent) validateNight(view VisibleState, d Decision) (bool, Decision) {
	switch a.role {
	case RoleWerewolf:
		if d.Target == 0 {
			return true, Decision{Action: "kill", Target: 0, Reasoning: d.Reasoning}
		}
		if containsSeat(view.Candidates, d.Target) && !containsSeat(view.Teammates, d.Target) {
			return true, Decision{Action: "kill", Target: d.Target, Reasoning: d.Reasoning}
		}
	case RoleSeer:
		if containsSeat(view.Candidates, d.Target) {
			return true, Decision{Action: "check", Target: d.Target, Reasoning: d.Reasoning}
		}
	case RoleWitch:
		switch d.Action {
		case "save":
			if view.HasAntidote && view.KillTarget != 0 {
				return true, Decision{Action: "save", Reasoning: d.Reasoning}
			}
		case "poison":
			if view.HasPoison && containsSeat(view.Candidates, d.Target) {
				return true, Decision{Action: "poison", Target: d.Target, Reasoning: d.Reasoning}
			}
		case "pass":
			return true, Decision{Action: "pass", Reasoning: d.Reasoning}
		}
	}
	return false, Decision{}
}

// fallbackNight picks the first legal candidate: werewolves prefer seats
// outside the pack, the seer prefers seats it has not checked yet, the witch
// holds her potions.
func (a *llmAgent) fallbackNight(view VisibleState) Decision {
	switch a.role {
	case RoleWerewolf:
		for _, c := range view.Candidates {
			if !containsSeat(view.Teammates, c) {
				return Decision{Action: "kill", Target: c, Reasoning: "fallback: first seat outside the pack"}
			}
		}
		return Decision{Action: "kill", Target: 0, Reasoning: "fallback: no legal victim"}
	case RoleSeer:
		checked := make(map[int]bool, len(view.Checks))
		for _, c := range view.Checks {
			checked[c.Seat] = true
		}
		for _, c := range view.Candidates {
			if !checked[c] {
				return Decision{Action: "check", Target: c, Reasoning: "fallback: first unchecked seat"}
			}
		}
		if len(view.Candidates) > 0 {
			return Decision{Action: "check", Target: view.Candidates[0], Reasoning: "fallback: first seat"}
		}
	case RoleWitch:
		return Decision{Action: "pass", Reasoning: "fallback: keep the potions"}
	}
	return Decision{Action: "pass", Reasoning: "no night action"}
}

// fallbackVote votes for the first candidate other than the voter.
func fallbackVote(view VisibleState) Decision {
	for _, c := range view.Candidates {
		if c != view.Seat {
			return Decision{Action: "vote", Target: c, Reasoning: "fallback: first other seat"}
		}
	}
	if len(view.Candidates) > 0 {
		return Decision{Action: "vote", Target: view.Candidates[0], Reasoning: "fallback: only myself left"}
	}
	return Decision{Action: "vote", Reasoning: "fallback: nobody to vote for"}
}

// fallbackShoot takes the first legal target, or holds fire after a poison
// death.
func fallbackShoot(view VisibleState, reason DeathReason) Decision {
	if reason == DeathPoison || !view.CanShoot {
		return Decision{Action: "no_shoot", Reasoning: "poison disabled the shot"}
	}
	if len(view.Candidates) > 0 {
		return Decision{Action: "shoot", Target: view.Candidates[0], Reasoning: "fallback: first legal target"}
	}
	return Decision{Action: "no_shoot", Reasoning: "no target left"}
}
