// Package rate implements Redis fixed-window counters for login attempts and
// password-reset requests.
//
// A window starts on the first INCR of a key, which also sets its EXPIRE.
// Key layout, relative to the configured prefix:
//
//	l:<username>   failed logins per username
//	lip:<ip>       failed logins per client address
//	r:<username>   reset requests per username
//	rip:<ip>       reset requests per client address
package rate
