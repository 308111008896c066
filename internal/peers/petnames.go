package peers

import (
	"crypto/sha256"
	"fmt"
)

var adjectives = [64]string{
	"able", "agile", "airy", "ancient", "arctic", "brave", "brisk", "candid",
	"cheerful", "clever", "cosmic", "crisp", "curious", "daring", "dapper", "eager",
	"early", "earnest", "electric", "fabled", "fancy", "fearless", "festive", "fluent",
	"gentle", "gifted", "glad", "grand", "happy", "hidden", "humble", "jolly",
	"jovial", "lively", "loyal", "lucid", "lunar", "merry", "modest", "noble",
	"nimble", "patient", "placid", "polite", "prime", "rapid", "ready", "regal",
	"rustic", "serene", "silent", "snowy", "solar", "spry", "stable", "sunny",
	"swift", "tidy", "tranquil", "true", "vivid", "wise", "witty", "zesty",
}

var nouns = [64]string{
	"acorn", "anchor", "arrow", "badger", "beacon", "beetle", "bison", "canyon",
	"comet", "condor", "cricket", "delta", "falcon", "fjord", "galaxy", "garnet",
	"geyser", "glacier", "harbor", "hazel", "horizon", "island", "jaguar", "kestrel",
	"lagoon", "lantern", "lemur", "lichen", "lynx", "magpie", "maple", "meadow",
	"meteor", "mongoose", "nebula", "orbit", "osprey", "otter", "panda", "pebble",
	"pelican", "planet", "prairie", "puffin", "quartz", "quasar", "raven", "reef",
	"river", "saddle", "salmon", "sequoia", "sparrow", "spruce", "summit", "thistle",
	"tundra", "valley", "walrus", "willow", "wombat", "yak", "zephyr", "zenith",
}

// PetnameFromDID derives a stable adjective-noun alias for a peer DID from
// the first and last bytes of its SHA-256 digest.
func PetnameFromDID(did string) string {
	h := sha256.Sum256([]byte(did))
	return fmt.Sprintf("%s-%s", adjectives[h[0]&63], nouns[h[len(h)-1]&63])
}
