package dist

// Bucket is the per-(package,version) accumulator. The zero value is a
// valid empty bucket. Bucket indirects through a pointer to an inner
// struct so that a Bucket itself stays pointer-sized when embedded in
// maps keyed by (package, version); callers may therefore copy a Bucket
// value freely without copying its payload.
type Bucket struct {
	inner *bucketInner
}

type bucketInner struct {
	compatibleSource    Artifact
	hasCompatibleSource bool

	compatibleWheel    Artifact
	compatibleWheelPri TagPriority
	hasCompatibleWheel bool

	incompatibleWheel    Artifact
	incompatibleWheelRsn IncompatibleWheel
	hasIncompatibleWheel bool

	incompatibleSource    Artifact
	incompatibleSourceRsn IncompatibleSource
	hasIncompatibleSource bool

	hashes []Hashes
}

func (b *Bucket) ensure() *bucketInner {
	if b.inner == nil {
		b.inner = &bucketInner{}
	}

	return b.inner
}

// NewFromBuilt constructs a bucket with exactly the wheel slot populated
// from a single candidate's verdict.
func NewFromBuilt(art Artifact, hash *Hashes, verdict WheelCompatibility) Bucket {
	var b Bucket
	b.InsertBuilt(art, hash, verdict)

	return b
}

// NewFromSource constructs a bucket with exactly the source slot
// populated from a single candidate's verdict.
func NewFromSource(art Artifact, hash *Hashes, verdict SourceCompatibility) Bucket {
	var b Bucket
	b.InsertSource(art, hash, verdict)

	return b
}

// InsertBuilt merges one wheel candidate's verdict into the bucket.
func (b *Bucket) InsertBuilt(art Artifact, hash *Hashes, verdict WheelCompatibility) {
	in := b.ensure()

	if verdict.IsCompatible() {
		if !in.hasCompatibleWheel || verdict.Priority() > in.compatibleWheelPri {
			in.compatibleWheel = art
			in.compatibleWheelPri = verdict.Priority()
			in.hasCompatibleWheel = true
		}
	} else {
		reason := verdict.Reason()
		if !in.hasIncompatibleWheel || reason.IsMoreInformative(in.incompatibleWheelRsn) {
			in.incompatibleWheel = art
			in.incompatibleWheelRsn = reason
			in.hasIncompatibleWheel = true
		}
	}

	if hash != nil {
		in.hashes = append(in.hashes, *hash)
	}
}

// InsertSource merges one source-distribution candidate's verdict into
// the bucket.
func (b *Bucket) InsertSource(art Artifact, hash *Hashes, verdict SourceCompatibility) {
	in := b.ensure()

	if verdict.IsCompatible() {
		if !in.hasCompatibleSource {
			in.compatibleSource = art
			in.hasCompatibleSource = true
		}
	} else {
		reason := verdict.Reason()
		if !in.hasIncompatibleSource || reason.IsMoreInformative(in.incompatibleSourceRsn) {
			in.incompatibleSource = art
			in.incompatibleSourceRsn = reason
			in.hasIncompatibleSource = true
		}
	}

	if hash != nil {
		in.hashes = append(in.hashes, *hash)
	}
}

// CompatibleSource returns the retained compatible source artifact, if any.
func (b Bucket) CompatibleSource() (Artifact, bool) {
	if b.inner == nil || !b.inner.hasCompatibleSource {
		return nil, false
	}

	return b.inner.compatibleSource, true
}

// CompatibleWheel returns the retained compatible wheel and its priority, if any.
func (b Bucket) CompatibleWheel() (Artifact, TagPriority, bool) {
	if b.inner == nil || !b.inner.hasCompatibleWheel {
		return nil, 0, false
	}

	return b.inner.compatibleWheel, b.inner.compatibleWheelPri, true
}

// IncompatibleWheel returns the most informative rejected wheel, if any.
func (b Bucket) IncompatibleWheel() (Artifact, IncompatibleWheel, bool) {
	if b.inner == nil || !b.inner.hasIncompatibleWheel {
		return nil, IncompatibleWheel{}, false
	}

	return b.inner.incompatibleWheel, b.inner.incompatibleWheelRsn, true
}

// IncompatibleSource returns the most informative rejected source, if any.
func (b Bucket) IncompatibleSource() (Artifact, IncompatibleSource, bool) {
	if b.inner == nil || !b.inner.hasIncompatibleSource {
		return nil, IncompatibleSource{}, false
	}

	return b.inner.incompatibleSource, b.inner.incompatibleSourceRsn, true
}

// Hashes returns the accumulated hash records in insertion order.
func (b Bucket) Hashes() []Hashes {
	if b.inner == nil {
		return nil
	}

	return b.inner.hashes
}

// IsEmpty reports whether all four slots are unset; hashes do not affect emptiness.
func (b Bucket) IsEmpty() bool {
	if b.inner == nil {
		return true
	}

	in := b.inner

	return !in.hasCompatibleSource && !in.hasCompatibleWheel &&
		!in.hasIncompatibleWheel && !in.hasIncompatibleSource
}
