package avpipeline

import "errors"

var errZeroDimension = errors.New("avpipeline: scaled output dimension rounds to zero")
