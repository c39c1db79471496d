package wire

// All first-class Go platforms pack int64 natively; the flag exists so
// the capability check stays explicit at codec construction and tests
// can exercise the unsupported path.
const supportsInt64 = true
