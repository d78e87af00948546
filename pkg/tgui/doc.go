// Package tgui renders small chat cards for the control surface:
// HTML-escaped lines, key/value rows and one row of action buttons.
package tgui
