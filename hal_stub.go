//go:build !(linux && (arm || arm64)) || disablegpio

package pio

// DefaultDialer is the Dialer used by the programs when no backend is chosen
// explicitly.  This build has no GPIO access, so it hands out channels to a
// process-wide simulated daemon.  Pin writes land in memory and can be
// inspected through StubDaemon.
var DefaultDialer Dialer = StubDaemon.Dial

// StubDaemon backs DefaultDialer in builds without GPIO access.
var StubDaemon = NewSimDaemon()
