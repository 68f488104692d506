package store

// Key layout. Everything lives under the vlab: prefix so a shared Redis
// instance can host other tenants. Per-class and per-serial keys embed
// the identifier in the middle of the path, matching what the in-container
// re-register job and the dashboard expect.

const prefix = "vlab:"

// KeyUsers is the set of login names allowed to use the lab.
func KeyUsers() string { return prefix + "users" }

// KeyUserOverlord marks a user as ACL-exempt when set.
func KeyUserOverlord(user string) string { return prefix + "user:" + user + ":overlord" }

// KeyUserAllowedBoards is the set of classes a user may lease from.
func KeyUserAllowedBoards(user string) string { return prefix + "user:" + user + ":allowedboards" }

// KeyBoardClasses is the set of classes with at least one registered board.
func KeyBoardClasses() string { return prefix + "boardclasses" }

// KeyClassBoards is the set of serials registered under a class.
func KeyClassBoards(class string) string { return prefix + "boardclass:" + class + ":boards" }

// KeyClassAvailable is the idle pool: serial → epoch seconds of entry.
func KeyClassAvailable(class string) string {
	return prefix + "boardclass:" + class + ":availableboards"
}

// KeyClassUnlocked is the lease-free pool: serial → epoch seconds of entry.
func KeyClassUnlocked(class string) string {
	return prefix + "boardclass:" + class + ":unlockedboards"
}

// KeyClassLocking is the short-TTL token advising that an allocation is in
// flight for the class.
func KeyClassLocking(class string) string { return prefix + "boardclass:" + class + ":locking" }

// KeyKnownBoards is the set of serials the config document declares.
func KeyKnownBoards() string { return prefix + "knownboards" }

func KeyKnownBoardClass(serial string) string { return prefix + "knownboard:" + serial + ":class" }
func KeyKnownBoardType(serial string) string  { return prefix + "knownboard:" + serial + ":type" }
func KeyKnownBoardReset(serial string) string { return prefix + "knownboard:" + serial + ":reset" }

// Per-attached-board instance keys, owned by the host agent.

func KeyBoardServer(serial string) string { return prefix + "board:" + serial + ":server" }
func KeyBoardPort(serial string) string   { return prefix + "board:" + serial + ":port" }

// Lease keys, owned by whichever relay shell holds the lease.

func KeyBoardLockUser(serial string) string { return prefix + "board:" + serial + ":lock:username" }
func KeyBoardLockTime(serial string) string { return prefix + "board:" + serial + ":lock:time" }

// Session keys, owned by the relay shell for the life of the user's shell.

func KeyBoardSessionUser(serial string) string {
	return prefix + "board:" + serial + ":session:username"
}
func KeyBoardSessionStart(serial string) string {
	return prefix + "board:" + serial + ":session:starttime"
}
func KeyBoardSessionPing(serial string) string {
	return prefix + "board:" + serial + ":session:pingtime"
}

// Hardware-test record per serial, plus the transient under-test marker.

func KeyBoardHwTestStatus(serial string) string {
	return prefix + "board:" + serial + ":hwtest:status"
}
func KeyBoardHwTestTime(serial string) string { return prefix + "board:" + serial + ":hwtest:time" }
func KeyBoardHwTestMessage(serial string) string {
	return prefix + "board:" + serial + ":hwtest:message"
}
func KeyBoardHwTestTesting(serial string) string {
	return prefix + "board:" + serial + ":hwtest:testing"
}

// Global flags and the tunnel port counter.

func KeyHwTestRunning() string { return prefix + "hwtest:running" }
func KeyHwTestTrigger() string { return prefix + "hwtest:trigger" }
func KeyConfigReload() string  { return prefix + "config:reload" }
func KeyPortCounter() string   { return prefix + "port" }

// Janitor activity counters, read back by the observability API.

func KeyStatsSweeps() string     { return prefix + "stats:sweeps" }
func KeyStatsHwTestRuns() string { return prefix + "stats:hwtestruns" }

// BoardInstanceKeys returns every per-serial key the host agent or the
// board remover must clear when a board leaves the lab.
func BoardInstanceKeys(serial string) []string {
	return []string{
		KeyBoardServer(serial),
		KeyBoardPort(serial),
		KeyBoardLockUser(serial),
		KeyBoardLockTime(serial),
		KeyBoardSessionUser(serial),
		KeyBoardSessionStart(serial),
		KeyBoardSessionPing(serial),
		KeyBoardHwTestStatus(serial),
		KeyBoardHwTestTime(serial),
		KeyBoardHwTestMessage(serial),
		KeyBoardHwTestTesting(serial),
	}
}

// LockKeys returns the pair cleared by unlock paths.
func LockKeys(serial string) []string {
	return []string{KeyBoardLockUser(serial), KeyBoardLockTime(serial)}
}

// SessionKeys returns the triple cleared by end-session paths.
func SessionKeys(serial string) []string {
	return []string{
		KeyBoardSessionUser(serial),
		KeyBoardSessionStart(serial),
		KeyBoardSessionPing(serial),
	}
}
