package resolve

import "errors"

// ErrNoLocalStore indicates a Cascade was built without a local store.
var ErrNoLocalStore = errors.New("resolve: no local store")
