// Package intent implements the free-text command parser shared by every
// agent: an ordered cascade of regular expressions picks an action, and a
// per-action Schema pulls typed fields (dates, periods, enums, bounded
// numbers, durations) out of the remaining text. Parsing is stateless and
// never touches storage; relative dates are resolved against a reference
// time supplied by the caller.
package intent
