// SPDX-FileCopyrightText: Copyright (C) 2026  The taper authors
// SPDX-License-Identifier: AGPL-3.0-only

package codephrase

// words is the generation alphabet: 256 short, distinct, easy to spell
// and easy to say over a phone call.  Changing this list never breaks
// interoperability (phrases are hashed as strings), it only changes what
// Generate can produce, so keep removals out of released versions anyway
// to keep Validate stable.
var words = []string{
	// Animals
	"badger", "bear", "bison", "crane", "crow", "deer", "dove", "eagle",
	"falcon", "ferret", "finch", "fox", "gecko", "hare", "hawk", "heron",
	"hornet", "ibis", "koala", "lemur", "lion", "llama", "lynx", "magpie",
	"marmot", "moose", "otter", "owl", "panda", "puffin", "raven", "seal",
	"shark", "sparrow", "stork", "swan", "tiger", "toad", "trout", "walrus",
	"weasel", "whale", "wolf", "wombat", "yak", "zebra", "viper", "mole",
	"beetle", "condor", "dingo", "gopher", "iguana", "jackal", "newt", "osprey",

	// Nature
	"acorn", "aspen", "birch", "bramble", "breeze", "brook", "canyon", "cedar",
	"cliff", "clover", "coral", "crag", "creek", "delta", "dune", "ember",
	"fern", "fjord", "forest", "frost", "geyser", "glacier", "grove", "harbor",
	"island", "jungle", "kelp", "lagoon", "lake", "lichen", "meadow", "mesa",
	"moss", "oasis", "ocean", "orchard", "pebble", "pine", "prairie", "reef",
	"ridge", "river", "sierra", "summit", "thicket", "tide", "tundra", "willow",
	"boulder", "cascade", "cove", "garnet", "granite", "heather", "inlet", "quartz",

	// Objects and structures
	"anchor", "anvil", "arch", "arrow", "axle", "banjo", "barrel", "beacon",
	"bell", "bridge", "bucket", "cabin", "candle", "canoe", "castle", "chalk",
	"chisel", "compass", "copper", "cradle", "crystal", "dagger", "drum", "easel",
	"fiddle", "flute", "gable", "gavel", "guitar", "hammer", "harp", "hinge",
	"kettle", "ladder", "lantern", "lever", "marble", "mast", "mill", "mirror",
	"needle", "oar", "organ", "paddle", "pulley", "quill", "rudder", "saddle",
	"shovel", "spindle", "sprocket", "tassel", "tower", "trowel", "turret", "wagon",

	// Weather and sky
	"aurora", "cirrus", "comet", "crater", "dawn", "dusk", "eclipse", "galaxy",
	"hail", "meteor", "monsoon", "nebula", "nimbus", "nova", "orbit", "plasma",
	"pulsar", "quasar", "squall", "sunset", "thunder", "twilight", "vortex", "zenith",
	"blizzard", "cyclone", "drizzle", "flurry", "gust", "mistral", "rainbow", "zephyr",

	// Food and plants
	"almond", "apple", "barley", "basil", "carrot", "cherry", "cocoa", "fennel",
	"ginger", "honey", "juniper", "lemon", "mango", "maple", "nutmeg", "olive",
	"peach", "pepper", "plum", "raisin", "saffron", "sage", "thyme", "walnut",
	"biscuit", "cinnamon", "clove", "currant", "hazel", "oat", "quince", "vanilla",

	// Actions and qualities
	"amber", "bold", "brisk", "bronze", "cobalt", "crimson", "gallop", "gleam",
	"glide", "indigo", "ivory", "jolly", "lively", "maroon", "mellow", "nimble",
	"placid", "rustic", "scarlet", "serene", "sturdy", "swift", "vivid", "zesty",
}
