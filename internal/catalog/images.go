package catalog

// Ubuntu 12.04 images per region.
var ubuntuImages = map[string]Entry{
	"ap-northeast-1": {"ami-c641f2c7", "ami-ac41f2ad", "ami-c441f2c5", "ami-4041f241"},
	"ap-southeast-1": {"ami-acf6b0fe", "ami-a6f6b0f4", "ami-aaf6b0f8", "ami-b8f6b0ea"},
	"eu-west-1":      {"ami-ab9491df", "ami-b39491c7", "ami-a99491dd", "ami-d19491a5"},
	"sa-east-1":      {"ami-5c03dd41", "ami-2a03dd37", "ami-2203dd3f", "ami-2e03dd33"},
	"us-east-1":      {"ami-82fa58eb", "ami-eafa5883", "ami-8cfa58e5", "ami-4efa5827"},
	"us-west-1":      {"ami-5965401c", "ami-bfe5bffa", "ami-5d654018", "ami-a7e5bfe2"},
	"us-west-2":      {"ami-4438b474", "ami-5238b462", "ami-4038b470", "ami-6038b450"},
}

// DefaultInstanceType is the smallest size class in InstanceTypes.
const DefaultInstanceType = "t1.micro"

// InstanceTypes lists the size classes offered in interactive mode.
var InstanceTypes = []string{
	"t1.micro",
	"m1.small",
	"m1.medium",
	"m1.large",
	"m1.xlarge",
	"c1.medium",
	"c1.xlarge",
	"m2.xlarge",
	"m2.2xlarge",
	"m2.4xlarge",
	"cc1.4xlarge",
	"cc2.8xlarge",
	"cg1.4xlarge",
}
