package dataset

import (
	_ "embed"
)

//go:embed data/titanic_sample.csv
var titanicSample []byte

var builtins = map[string][]byte{
	"titanic": titanicSample,
}
