/*
package envconfig defines the interface for and implementations of a configuration object
that can be modified by separate parties who may not be aware of one another. It combines a persistent file
with environment variables so that a running agent and the tools that provision it always agree.

An EnvConfig stores a collection of Entries in a file. Each Entry maps a unique identifier to a value,
the name of an environment variable, and an optional description comment. The environment variable
takes precedence: when Setting or Getting an Entry whose environment variable disagrees with the file,
the file is overwritten with the environment variable's value and that value is returned. If the
environment variable is not set, Getting and Setting set it to the file's value.
*/

package envconfig

type Entry struct {
	Value   string `yaml:"value"`
	Comment string `yaml:"comment,omitempty"`
	Env     string `yaml:"env,omitempty"`
}

type EnvConfig interface {
	// Set writes entry under id and returns the value that ended up in the file
	Set(id string, entry *Entry) (string, error)
	// Get returns the value stored under id, reconciled against its environment variable
	Get(id string) (string, error)
	// Delete removes id from the file. If hard == true, it also unsets its environment variable
	Delete(id string, hard bool) error
	// Path is the backing file, for callers that watch it for changes
	Path() string
}
