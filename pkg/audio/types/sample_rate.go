package types

type SampleRate uint32

type Channel uint32
