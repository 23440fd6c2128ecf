package core

// ComponentName identifies a feature module
type ComponentName string

const (
	VideoConference      ComponentName = "videoConference"
	PresenceCursor       ComponentName = "presence"
	WhoIsOnline          ComponentName = "whoIsOnline"
	FormElements         ComponentName = "formElements"
	Comments             ComponentName = "comments"
	Realtime             ComponentName = "realtime"
	Presence3DMatterport ComponentName = "presence3dMatterport"
	Presence3DThreeJS    ComponentName = "presence3dThreejs"
	Presence3DAutodesk   ComponentName = "presence3dAutodesk"
)

func (n ComponentName) String() string {
	return string(n)
}
